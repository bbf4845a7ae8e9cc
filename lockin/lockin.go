// Package lockin describes lock-in amplifiers: the capability interface the
// scan controller drives, the enumerated filter and gain tables, and the
// status byte they report.
package lockin

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownLabel is generated when a time constant or sensitivity label
	// does not name an entry in the table
	ErrUnknownLabel = errors.New("label not found in table")
)

// IndexError is generated when a table index is outside the table.
// Callers are expected to validate against the table size; this error is
// not masked or clamped by drivers.
type IndexError struct {
	Table string
	Index int
	Len   int
}

func (e IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0,%d)", e.Table, e.Index, e.Len)
}

// Reading is one measurement from the amplifier.  X is the in-phase and Y the
// quadrature output.  Recovered is true when a malformed response was replaced
// with zero; hard failures are returned as errors instead.
type Reading struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`

	Recovered bool `json:"recovered"`
}

// Settings mirrors the filter and gain configured on the amplifier
type Settings struct {
	TimeConstant TimeConstant `json:"timeConstant" yaml:"timeConstant"`
	Sensitivity  Sensitivity  `json:"sensitivity" yaml:"sensitivity"`
}

// Amplifier is the minimum a lock-in amplifier must do to be scanned with
type Amplifier interface {
	// Open establishes the connection
	Open() error

	// Close releases the connection
	Close() error

	// Measure takes one reading.  Transient garble is recovered locally
	// and flagged on the Reading rather than returned as an error
	Measure() (Reading, error)

	// SetTimeConstant selects a time constant from the table
	SetTimeConstant(TimeConstant) error

	// GetTimeConstant returns the time constant in use
	GetTimeConstant() (TimeConstant, error)

	// SetSensitivity selects a full scale sensitivity from the table
	SetSensitivity(Sensitivity) error

	// GetSensitivity returns the sensitivity in use
	GetSensitivity() (Sensitivity, error)
}

// StatusChecker can read the device status byte
type StatusChecker interface {
	CheckStatusByte() (Status, error)
}

// Quiescer can return the amplifier to a quiet, front-panel state after a run
type Quiescer interface {
	Quiesce() error
}

// Pinger can verify the link to the amplifier is alive
type Pinger interface {
	Ping() error
}

// StandardSetupper can apply a preset of filter configuration
type StandardSetupper interface {
	StandardSetup() error
}

// RawCommunicator can send an arbitrary command and return the reply
type RawCommunicator interface {
	Raw(string) (string, error)
}

// Apply sets tc and sens on a, then reads both back.  The hardware may coerce
// a request onto a neighboring step, so the returned Settings are what the
// device reports, not what was asked for.
func Apply(a Amplifier, tc TimeConstant, sens Sensitivity) (Settings, error) {
	var s Settings
	if err := a.SetTimeConstant(tc); err != nil {
		return s, err
	}
	if err := a.SetSensitivity(sens); err != nil {
		return s, err
	}
	return ReadSettings(a)
}

// ReadSettings queries the time constant and sensitivity in use
func ReadSettings(a Amplifier) (Settings, error) {
	var (
		s   Settings
		err error
	)
	s.TimeConstant, err = a.GetTimeConstant()
	if err != nil {
		return s, err
	}
	s.Sensitivity, err = a.GetSensitivity()
	return s, err
}
