package main

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/theckman/yacspin"

	"github.com/thzlab/lightscan/scan"
)

// spinObserver shows scan progress on a terminal spinner.  If the spinner
// cannot be created it logs instead
type spinObserver struct {
	sp  *yacspin.Spinner
	log scan.LogObserver
}

func newSpinObserver(w io.Writer) *spinObserver {
	o := &spinObserver{log: scan.LogObserver{Logger: log.New(w, "", log.LstdFlags)}}
	sp, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " scanning",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Printf("spinner unavailable: %v", err)
		return o
	}
	o.sp = sp
	return o
}

func (o *spinObserver) Estimate(s scan.Session, d time.Duration) {
	if o.sp == nil {
		o.log.Estimate(s, d)
		return
	}
	o.sp.Message(fmt.Sprintf("%d steps, about %s", s.Params.StepCount(), scan.FormatDuration(d)))
	if err := o.sp.Start(); err != nil {
		o.sp = nil
		o.log.Estimate(s, d)
	}
}

func (o *spinObserver) Progress(p scan.Progress) {
	if o.sp == nil {
		o.log.Progress(p)
		return
	}
	o.sp.Message(fmt.Sprintf("step %d/%d at %g, %s left", p.Step+1, p.Steps, p.Position, scan.FormatDuration(p.Remaining)))
}

func (o *spinObserver) Warning(msg string) {
	if o.sp == nil {
		o.log.Warning(msg)
		return
	}
	o.sp.Pause()
	o.log.Warning(msg)
	o.sp.Unpause()
}

func (o *spinObserver) Finished(s scan.Session) {
	if o.sp == nil {
		o.log.Finished(s)
	}
}

// done stops the spinner once the controller has returned
func (o *spinObserver) done(s scan.Session, err error) {
	if o.sp == nil {
		return
	}
	if err != nil || s.Outcome == scan.OutcomeFaulted {
		o.sp.StopFailMessage(string(s.Outcome))
		o.sp.StopFail()
		return
	}
	o.sp.StopMessage(string(s.Outcome))
	o.sp.Stop()
}
