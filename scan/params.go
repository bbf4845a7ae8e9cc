// Package scan steps a stage through a range, takes averaged readings at each
// position and records them.
package scan

import (
	"fmt"
	"math"

	"github.com/thzlab/lightscan/lockin"
	"github.com/thzlab/lightscan/mathx"
)

// stepTolerance keeps decimal step sizes from losing their last point to
// floating point, e.g. (1-0)/0.1 = 9.999999999999998
const stepTolerance = 1e-9

// Parameters describe one sweep
type Parameters struct {
	Start    float64 `json:"start" yaml:"start"`
	Stop     float64 `json:"stop" yaml:"stop"`
	StepSize float64 `json:"stepSize" yaml:"stepSize"`

	// Averaging is the number of readings averaged per position
	Averaging int `json:"averaging" yaml:"averaging"`

	// PostMoveWait is the settle time after a move, in time constants
	PostMoveWait float64 `json:"postMoveWait" yaml:"postMoveWait"`

	TimeConstant lockin.TimeConstant `json:"timeConstant" yaml:"timeConstant"`
	Sensitivity  lockin.Sensitivity  `json:"sensitivity" yaml:"sensitivity"`
}

// ParameterError is generated when Parameters fail validation
type ParameterError struct {
	Field  string
	Reason string
}

func (e ParameterError) Error() string {
	return fmt.Sprintf("invalid scan parameter %s: %s", e.Field, e.Reason)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Validate checks p before any hardware is touched
func (p Parameters) Validate() error {
	switch {
	case !finite(p.Start):
		return ParameterError{"start", "not finite"}
	case !finite(p.Stop):
		return ParameterError{"stop", "not finite"}
	case !finite(p.StepSize) || p.StepSize == 0:
		return ParameterError{"stepSize", "must be finite and nonzero"}
	case p.Averaging < 1:
		return ParameterError{"averaging", "must be at least 1"}
	case !finite(p.PostMoveWait) || p.PostMoveWait < 0:
		return ParameterError{"postMoveWait", "must be finite and non-negative"}
	}
	ratio := (p.Stop - p.Start) / p.StepSize
	if !finite(ratio) {
		return ParameterError{"stepSize", "range/step is not finite"}
	}
	if ratio < -stepTolerance {
		return ParameterError{"stepSize", fmt.Sprintf("stepping from %g by %g never reaches %g", p.Start, p.StepSize, p.Stop)}
	}
	if err := p.TimeConstant.Check(); err != nil {
		return ParameterError{"timeConstant", err.Error()}
	}
	if err := p.Sensitivity.Check(); err != nil {
		return ParameterError{"sensitivity", err.Error()}
	}
	return nil
}

// StepCount is the number of positions sampled, floor((stop-start)/step)+1.
// It is zero for invalid parameters
func (p Parameters) StepCount() int {
	if p.Validate() != nil {
		return 0
	}
	ratio := (p.Stop - p.Start) / p.StepSize
	if ratio < 0 {
		ratio = 0
	}
	return int(math.Floor(ratio+stepTolerance)) + 1
}

// positionResolution is the grid positions are snapped to
const positionResolution = 1e-9

// Position is the stage position of step i
func (p Parameters) Position(i int) float64 {
	return mathx.Round(p.Start+float64(i)*p.StepSize, positionResolution)
}

// SettleTime is the wait after each move
func (p Parameters) SettleTime() float64 {
	return p.PostMoveWait * p.TimeConstant.Seconds()
}
