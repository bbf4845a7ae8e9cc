package scan

import (
	"time"

	"github.com/google/uuid"

	"github.com/thzlab/lightscan/lockin"
	"github.com/thzlab/lightscan/recorder"
)

// Outcome is how a session ended
type Outcome string

const (
	// OutcomeRunning is a session still in progress
	OutcomeRunning Outcome = "running"

	// OutcomeCompleted is a session that reached Stop
	OutcomeCompleted Outcome = "completed"

	// OutcomeStopped is a session cancelled by Stop or its context
	OutcomeStopped Outcome = "stopped"

	// OutcomeFaulted is a session aborted by an instrument fault
	OutcomeFaulted Outcome = "faulted"
)

// Session is one run of the controller
type Session struct {
	ID        string            `json:"id"`
	Params    Parameters        `json:"params"`
	Settings  lockin.Settings   `json:"settings"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   time.Time         `json:"endedAt,omitempty"`
	Outcome   Outcome           `json:"outcome"`
	Error     string            `json:"error,omitempty"`
	Samples   []recorder.Sample `json:"samples"`

	// Saved is true once the session was written to disk
	Saved bool `json:"saved"`

	// File is the data file the session went to, if any
	File string `json:"file,omitempty"`
}

func newSession(p Parameters, s lockin.Settings) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Params:    p,
		Settings:  s,
		StartedAt: time.Now(),
		Outcome:   OutcomeRunning,
	}
}

// Recovered is the total number of zeroed readings in the session
func (s Session) Recovered() int {
	n := 0
	for _, smp := range s.Samples {
		n += smp.Recovered
	}
	return n
}

// Run is s as recorder metadata.  Instrument settings are those read back
// from the hardware, not those requested
func (s Session) Run() recorder.Run {
	return recorder.Run{
		ID:           s.ID,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Outcome:      string(s.Outcome),
		Error:        s.Error,
		Start:        s.Params.Start,
		Stop:         s.Params.Stop,
		StepSize:     s.Params.StepSize,
		Averaging:    s.Params.Averaging,
		PostMoveWait: s.Params.PostMoveWait,
		TimeConstant: s.Settings.TimeConstant,
		Sensitivity:  s.Settings.Sensitivity,
	}
}
