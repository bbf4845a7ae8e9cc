// Package motion contains an abstract interface for a single axis scanning stage
// and the faults it can raise.
package motion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHomingTimeout is generated when the stage does not report home in time
	ErrHomingTimeout = errors.New("homing did not complete in time")

	// ErrMovementTimeout is generated when a move does not complete in time
	ErrMovementTimeout = errors.New("movement did not complete in time")
)

// Fault is a motion failure that should abort a scan.  Err is one of the
// timeout sentinels or a transport error
type Fault struct {
	Op      string
	Pos     float64
	Elapsed time.Duration
	Err     error
}

func (f *Fault) Error() string {
	if f.Op == "move" {
		return fmt.Sprintf("stage %s to %g failed after %s: %v", f.Op, f.Pos, f.Elapsed, f.Err)
	}
	return fmt.Sprintf("stage %s failed after %s: %v", f.Op, f.Elapsed, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsFault returns true if err is, or wraps, a *Fault
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// Stage describes a set of methods on a single axis stage driven in steps
type Stage interface {
	// Open establishes the connection
	Open() error

	// Close releases the connection
	Close() error

	// Home drives the stage to its reference position and blocks until it arrives
	Home(context.Context) error

	// Move commands a move to an absolute step position without blocking
	Move(float64) error

	// WaitForMovement blocks until the last commanded move completes
	WaitForMovement(context.Context) error
}

// Aliver can report whether the liveness handshake succeeded
type Aliver interface {
	Alive() bool
}

// Positioner can report the last commanded position
type Positioner interface {
	Position() float64
}

// MoveAndWait commands a move to pos and waits for it to finish
func MoveAndWait(ctx context.Context, s Stage, pos float64) error {
	if err := s.Move(pos); err != nil {
		return err
	}
	return s.WaitForMovement(ctx)
}
