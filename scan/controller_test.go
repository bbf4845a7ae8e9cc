package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thzlab/lightscan/comm/commtest"
	"github.com/thzlab/lightscan/daq"
	"github.com/thzlab/lightscan/demo"
	"github.com/thzlab/lightscan/motion"
	"github.com/thzlab/lightscan/recorder"
	"github.com/thzlab/lightscan/srs"
	"github.com/thzlab/lightscan/thorlabs"
)

type events struct {
	sync.Mutex
	estimates []time.Duration
	progress  []Progress
	warnings  []string
	finished  []Session
}

func (e *events) Estimate(_ Session, d time.Duration) {
	e.Lock()
	defer e.Unlock()
	e.estimates = append(e.estimates, d)
}

func (e *events) Progress(p Progress) {
	e.Lock()
	defer e.Unlock()
	e.progress = append(e.progress, p)
}

func (e *events) Warning(msg string) {
	e.Lock()
	defer e.Unlock()
	e.warnings = append(e.warnings, msg)
}

func (e *events) Finished(s Session) {
	e.Lock()
	defer e.Unlock()
	e.finished = append(e.finished, s)
}

func sequentialMock(t *testing.T, n int) *srs.Mock {
	t.Helper()
	d, err := demo.New(demo.Sequence(n))
	require.NoError(t, err)
	m := srs.NewMock(d)
	require.NoError(t, m.Open())
	return m
}

func TestEndToEndSequential(t *testing.T) {
	amp := sequentialMock(t, 33)
	stage := thorlabs.NewMock(0)
	ev := &events{}
	dir := t.TempDir()
	c := New(stage,
		WithAmplifier(amp),
		WithObserver(ev),
		WithSavePolicy(recorder.Policy{Enabled: true, Dir: dir, Label: "e2e"}))

	p := example() // 0..10 step 1, averaging 3, 100 ms, factor 1
	sess, err := c.Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, sess.Outcome)
	require.Len(t, sess.Samples, 11)
	for i, s := range sess.Samples {
		assert.Equal(t, float64(i), s.Position)
		assert.Equal(t, float64(3*i+1), s.Value, "mean of readings %d..%d", 3*i, 3*i+2)
	}
	assert.True(t, sess.Saved)
	assert.Equal(t, p.TimeConstant, sess.Settings.TimeConstant)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, Idle, c.State())

	ev.Lock()
	assert.Len(t, ev.progress, 11)
	assert.Equal(t, []time.Duration{Estimate(p, FixedOverhead(0))}, ev.estimates)
	assert.Len(t, ev.finished, 1)
	assert.Equal(t, time.Duration(0), ev.progress[10].Remaining)
	ev.Unlock()

	matches, _ := filepath.Glob(filepath.Join(dir, "*_e2e.dat"))
	require.Len(t, matches, 1)
	raw, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "stagePosition,voltage\n0,1\n1,4\n"))
	assert.Equal(t, 11, stage.Moves())
}

// sr830 answers QX with 1.0, except the nth QX which is garbled
func sr830(garbleAt int) commtest.Responder {
	qx := 0
	return func(msg string) string {
		switch strings.TrimSuffix(msg, "\r") {
		case "QX":
			qx++
			if qx == garbleAt {
				return "#&!?garbage\r"
			}
			return fmt.Sprintf("%+.4E", 1.0)
		case "QY":
			return fmt.Sprintf("%+.4E", 0.0)
		case "T 1":
			return "1\r"
		case "G":
			return "4\r"
		case "W":
			return "0\r"
		case "Y":
			return "0\r"
		}
		return ""
	}
}

func TestOneMalformedFrame(t *testing.T) {
	conn := commtest.New(sr830(3))
	amp := srs.NewSR830("fake", 0)
	amp.Maker = conn.Maker()
	amp.FlushSettle = 0
	require.NoError(t, amp.Open())

	c := New(thorlabs.NewMock(0), WithAmplifier(amp))
	p := Parameters{Start: 0, Stop: 4, StepSize: 1, Averaging: 1, PostMoveWait: 0, TimeConstant: 0, Sensitivity: 0}
	sess, err := c.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, sess.Samples, 5)

	zeros := 0
	for i, s := range sess.Samples {
		if s.Value == 0 {
			zeros++
			assert.Equal(t, 2, i)
			assert.Equal(t, 1, s.Recovered)
		} else {
			assert.Equal(t, 1.0, s.Value)
		}
	}
	assert.Equal(t, 1, zeros)
	assert.Equal(t, 1, sess.Recovered())
}

func TestStopMidWait(t *testing.T) {
	amp := sequentialMock(t, 10)
	ev := &events{}
	c := New(thorlabs.NewMock(0), WithAmplifier(amp), WithObserver(ev), WithQuiesceOnStop(true))
	p := example()
	p.TimeConstant = 5 // 300 ms
	p.PostMoveWait = 3 // 900 ms settle
	p.Averaging = 1
	require.NoError(t, c.Start(context.Background(), p))

	// the first sample is taken after the initial settle
	deadline := time.Now().Add(10 * time.Second)
	for {
		s, _ := c.Session()
		if len(s.Samples) == 1 {
			break
		}
		require.True(t, time.Now().Before(deadline), "no sample taken")
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, errors.Is(c.Start(context.Background(), p), ErrBusy))

	stopAt := time.Now()
	c.Stop()
	c.Wait()
	d := time.Since(stopAt)
	assert.True(t, d < 5*DefaultPollInterval, "stop took %s", d)

	s, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, OutcomeStopped, s.Outcome)
	assert.Len(t, s.Samples, 1)
	assert.Equal(t, 1, amp.Commands("quiesce"))
	assert.Equal(t, Idle, c.State())
}

func TestContextCancelStops(t *testing.T) {
	amp := sequentialMock(t, 10)
	c := New(thorlabs.NewMock(0), WithAmplifier(amp))
	p := example()
	p.TimeConstant = 6
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	sess, err := c.Run(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, sess.Outcome)
	assert.Len(t, sess.Samples, 0)
}

func TestInvalidParametersTouchNothing(t *testing.T) {
	amp := sequentialMock(t, 10)
	stage := thorlabs.NewMock(0)
	c := New(stage, WithAmplifier(amp))
	p := example()
	p.StepSize = 0
	err := c.Start(context.Background(), p)
	var pe ParameterError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, amp.Commands("setTimeConstant"))
	assert.Equal(t, 0, stage.Moves())
	_, ok := c.Session()
	assert.False(t, ok)
}

func TestExclusive(t *testing.T) {
	amp := sequentialMock(t, 10)
	c := New(thorlabs.NewMock(0), WithAmplifier(amp))

	ran := false
	require.NoError(t, c.Exclusive(func() error {
		ran = true
		assert.True(t, c.Busy())
		assert.True(t, errors.Is(c.Start(context.Background(), example()), ErrBusy))
		assert.True(t, errors.Is(c.Exclusive(func() error { return nil }), ErrBusy))
		return nil
	}))
	assert.True(t, ran)
	assert.False(t, c.Busy())

	p := example()
	p.TimeConstant = 6
	require.NoError(t, c.Start(context.Background(), p))
	assert.True(t, errors.Is(c.Exclusive(func() error { return nil }), ErrBusy))
	c.Stop()
	c.Wait()
	assert.NoError(t, c.Exclusive(func() error { return nil }))
}

func TestMotionFaultKeepsSamples(t *testing.T) {
	amp := sequentialMock(t, 10)
	stage := thorlabs.NewMock(10)
	stage.MoveTimeout = 20 * time.Millisecond
	dir := t.TempDir()
	c := New(stage, WithAmplifier(amp), WithSavePolicy(recorder.Policy{Enabled: true, Dir: dir}))
	p := Parameters{Start: 0, Stop: 200, StepSize: 100, Averaging: 1, TimeConstant: 0}
	sess, err := c.Run(context.Background(), p)
	assert.True(t, errors.Is(err, motion.ErrMovementTimeout), "got %v", err)
	assert.Equal(t, OutcomeFaulted, sess.Outcome)
	assert.Len(t, sess.Samples, 1)
	assert.NotEmpty(t, sess.Error)
	assert.True(t, sess.Saved)
}

func TestDigitizerSkipsMissingSamples(t *testing.T) {
	d, err := demo.New(demo.Sequence(100))
	require.NoError(t, err)
	dig := daq.NewMock(d)
	dig.DropEvery = 2
	ev := &events{}
	c := New(thorlabs.NewMock(0), WithDigitizer(dig), WithObserver(ev))
	p := Parameters{Start: 0, Stop: 2, StepSize: 1, Averaging: 2, TimeConstant: 0}
	sess, err := c.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, sess.Samples, 3)
	assert.Equal(t, []float64{0, 1, 2}, []float64{sess.Samples[0].Value, sess.Samples[1].Value, sess.Samples[2].Value})
	ev.Lock()
	assert.Len(t, ev.warnings, 3)
	ev.Unlock()
}

func TestDigitizerAllMissingRecordsNothing(t *testing.T) {
	d, _ := demo.New([]float64{1})
	dig := daq.NewMock(d)
	dig.DropEvery = 1
	ev := &events{}
	c := New(thorlabs.NewMock(0), WithDigitizer(dig), WithObserver(ev))
	p := Parameters{Start: 0, Stop: 1, StepSize: 1, Averaging: 2, TimeConstant: 0}
	sess, err := c.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, sess.Samples, 0)
	ev.Lock()
	defer ev.Unlock()
	require.Len(t, ev.progress, 2)
	assert.False(t, ev.progress[0].HasValue)
}

type deadLink struct {
	*srs.Mock
}

func (deadLink) Ping() error { return errors.New("no echo") }

func TestFailedLinkCheckDisablesSaving(t *testing.T) {
	amp := deadLink{sequentialMock(t, 10)}
	dir := t.TempDir()
	ev := &events{}
	c := New(thorlabs.NewMock(0), WithAmplifier(amp), WithObserver(ev),
		WithSavePolicy(recorder.Policy{Enabled: true, Dir: dir}))
	p := Parameters{Start: 0, Stop: 1, StepSize: 1, Averaging: 1, TimeConstant: 0}
	sess, err := c.Run(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, sess.Saved)
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 0)
	ev.Lock()
	defer ev.Unlock()
	require.NotEmpty(t, ev.warnings)
	assert.Contains(t, ev.warnings[0], "link check failed")
}

func TestStatusWarning(t *testing.T) {
	amp := sequentialMock(t, 10)
	amp.SetStatus(0x04)
	ev := &events{}
	c := New(thorlabs.NewMock(0), WithAmplifier(amp), WithObserver(ev))
	p := Parameters{Start: 0, Stop: 0, StepSize: 1, Averaging: 1, TimeConstant: 0}
	_, err := c.Run(context.Background(), p)
	require.NoError(t, err)
	ev.Lock()
	defer ev.Unlock()
	assert.Contains(t, ev.warnings, "lock-in status: no reference detected")
}

func TestNoSource(t *testing.T) {
	c := New(thorlabs.NewMock(0))
	assert.Equal(t, ErrNoSource, c.Start(context.Background(), example()))
}
