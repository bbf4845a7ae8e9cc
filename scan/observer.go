package scan

import (
	"log"
	"time"
)

// Progress is reported after every step
type Progress struct {
	SessionID string        `json:"sessionId"`
	Step      int           `json:"step"`
	Steps     int           `json:"steps"`
	Position  float64       `json:"position"`
	Value     float64       `json:"value"`
	HasValue  bool          `json:"hasValue"`
	Recovered int           `json:"recovered"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

// Observer receives events from a Controller.  Calls are made from the scan
// goroutine and must not block for long
type Observer interface {
	// Estimate is called when a scan starts with its predicted duration
	Estimate(Session, time.Duration)

	// Progress is called after each step
	Progress(Progress)

	// Warning reports a condition that does not stop the scan
	Warning(string)

	// Finished is called once the session is final
	Finished(Session)
}

// Nop is an Observer that ignores everything
type Nop struct{}

// Estimate does nothing
func (Nop) Estimate(Session, time.Duration) {}

// Progress does nothing
func (Nop) Progress(Progress) {}

// Warning does nothing
func (Nop) Warning(string) {}

// Finished does nothing
func (Nop) Finished(Session) {}

// MultiObserver fans events out to each member in order
type MultiObserver []Observer

// Estimate forwards to each observer
func (m MultiObserver) Estimate(s Session, d time.Duration) {
	for _, o := range m {
		o.Estimate(s, d)
	}
}

// Progress forwards to each observer
func (m MultiObserver) Progress(p Progress) {
	for _, o := range m {
		o.Progress(p)
	}
}

// Warning forwards to each observer
func (m MultiObserver) Warning(msg string) {
	for _, o := range m {
		o.Warning(msg)
	}
}

// Finished forwards to each observer
func (m MultiObserver) Finished(s Session) {
	for _, o := range m {
		o.Finished(s)
	}
}

// LogObserver writes events as log lines
type LogObserver struct {
	*log.Logger
}

// Estimate logs the predicted duration
func (l LogObserver) Estimate(s Session, d time.Duration) {
	l.Printf("scan %s: %d steps, estimated %s\n", s.ID, s.Params.StepCount(), FormatDuration(d))
}

// Progress logs one step
func (l LogObserver) Progress(p Progress) {
	if !p.HasValue {
		l.Printf("step %d/%d at %g: no sample, %s left\n", p.Step+1, p.Steps, p.Position, FormatDuration(p.Remaining))
		return
	}
	l.Printf("step %d/%d at %g: %g, %s left\n", p.Step+1, p.Steps, p.Position, p.Value, FormatDuration(p.Remaining))
}

// Warning logs msg
func (l LogObserver) Warning(msg string) {
	l.Println("warning:", msg)
}

// Finished logs the outcome
func (l LogObserver) Finished(s Session) {
	if s.Error != "" {
		l.Printf("scan %s %s after %d samples: %s\n", s.ID, s.Outcome, len(s.Samples), s.Error)
		return
	}
	l.Printf("scan %s %s with %d samples\n", s.ID, s.Outcome, len(s.Samples))
}
