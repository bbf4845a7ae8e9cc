package thorlabs

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/thzlab/lightscan/motion"
)

// DefaultMockVelocity is the simulated transit speed in steps per second
const DefaultMockVelocity = 120

// Mock simulates a stage moving at a fixed velocity
type Mock struct {
	sync.Mutex

	// Velocity in steps per second; zero moves instantly
	Velocity float64

	MoveTimeout time.Duration

	pos     float64
	transit time.Duration
	moves   int
	homed   bool
}

// NewMock creates a simulated stage
func NewMock(velocity float64) *Mock {
	return &Mock{Velocity: velocity, MoveTimeout: DefaultMoveTimeout}
}

// Open does nothing
func (m *Mock) Open() error { return nil }

// Close does nothing
func (m *Mock) Close() error { return nil }

// Alive is always true
func (m *Mock) Alive() bool { return true }

func (m *Mock) travel(to float64) time.Duration {
	if m.Velocity <= 0 {
		return 0
	}
	secs := math.Abs(to-m.pos) / m.Velocity
	return time.Duration(secs * float64(time.Second))
}

// Home returns the stage to zero
func (m *Mock) Home(ctx context.Context) error {
	m.Lock()
	d := m.travel(0)
	m.Unlock()
	if err := sleep(ctx, d); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.pos = 0
	m.homed = true
	return nil
}

// Move starts a simulated move
func (m *Mock) Move(pos float64) error {
	m.Lock()
	defer m.Unlock()
	m.transit = m.travel(pos)
	m.pos = pos
	m.moves++
	return nil
}

// WaitForMovement sleeps for the transit of the last move
func (m *Mock) WaitForMovement(ctx context.Context) error {
	m.Lock()
	d, pos, limit := m.transit, m.pos, m.MoveTimeout
	m.transit = 0
	m.Unlock()
	if limit > 0 && d > limit {
		if err := sleep(ctx, limit); err != nil {
			return err
		}
		return &motion.Fault{Op: "move", Pos: pos, Elapsed: limit, Err: motion.ErrMovementTimeout}
	}
	return sleep(ctx, d)
}

// Position returns the last commanded position
func (m *Mock) Position() float64 {
	m.Lock()
	defer m.Unlock()
	return m.pos
}

// Moves returns the number of moves commanded
func (m *Mock) Moves() int {
	m.Lock()
	defer m.Unlock()
	return m.moves
}

// Homed is true after a successful Home
func (m *Mock) Homed() bool {
	m.Lock()
	defer m.Unlock()
	return m.homed
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
