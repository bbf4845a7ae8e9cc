package scan

import (
	"fmt"
	"math"
	"time"
)

// DefaultVelocity is the stage speed assumed by VelocityOverhead, steps/s
const DefaultVelocity = 120.

// Overhead is the per-step cost that is not spent measuring or settling
type Overhead func(Parameters) time.Duration

// FixedOverhead charges d per step
func FixedOverhead(d time.Duration) Overhead {
	return func(Parameters) time.Duration { return d }
}

// VelocityOverhead charges the transit time of one step at v steps per second
func VelocityOverhead(v float64) Overhead {
	if v <= 0 {
		v = DefaultVelocity
	}
	return func(p Parameters) time.Duration {
		return seconds(math.Abs(p.StepSize) / v)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// StepDuration is the estimated duration of one step,
// tc * (1 + PostMoveWait) * Averaging + overhead
func StepDuration(p Parameters, oh Overhead) time.Duration {
	if p.Validate() != nil {
		return 0
	}
	secs := p.TimeConstant.Seconds() * (1 + p.PostMoveWait) * float64(p.Averaging)
	d := seconds(secs)
	if oh != nil {
		d += oh(p)
	}
	return d
}

// Estimate is the predicted duration of the whole scan.  It is pure and
// returns zero for invalid parameters
func Estimate(p Parameters, oh Overhead) time.Duration {
	return StepDuration(p, oh) * time.Duration(p.StepCount())
}

// Remaining is the estimate for the steps after done have been taken
func Remaining(p Parameters, oh Overhead, done int) time.Duration {
	left := p.StepCount() - done
	if left <= 0 {
		return 0
	}
	return StepDuration(p, oh) * time.Duration(left)
}

// FormatDuration renders d as "1hrs, 02mins, 03secs"
func FormatDuration(d time.Duration) string {
	s := int64(d.Round(time.Second) / time.Second)
	h, s := s/3600, s%3600
	m, s := s/60, s%60
	return fmt.Sprintf("%dhrs, %02dmins, %02dsecs", h, m, s)
}
