package scan

import (
	"context"
	"time"
)

// DefaultPollInterval is the granularity of the settle wait; a stop request
// is noticed within one interval
const DefaultPollInterval = 10 * time.Millisecond

// settle sleeps for d in increments of c.poll, returning false early if the
// scan was stopped
func (c *Controller) settle(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if c.stop.Load() || ctx.Err() != nil {
			return false
		}
		left := time.Until(deadline)
		if left <= 0 {
			return true
		}
		t := time.NewTimer(min(left, c.poll))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false
		}
	}
}
