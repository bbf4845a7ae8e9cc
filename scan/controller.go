package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thzlab/lightscan/daq"
	"github.com/thzlab/lightscan/lockin"
	"github.com/thzlab/lightscan/motion"
	"github.com/thzlab/lightscan/recorder"
)

var (
	// ErrBusy is generated when a scan or a manual operation is already in progress
	ErrBusy = errors.New("controller busy, a scan is running")

	// ErrNoSource is generated when the controller has nothing to measure with
	ErrNoSource = errors.New("controller has no stage or no amplifier/digitizer")
)

// State is the phase of the controller
type State int32

const (
	// Idle means no scan is running
	Idle State = iota

	// Running means a scan is in progress
	Running

	// Stopping means Stop has been called and the scan is winding down
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText renders the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Running, Stopping} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown controller state %q", b)
}

// Option configures a Controller
type Option func(*Controller)

// WithAmplifier measures with a lock-in.  The amplifier's filter settings are
// applied at the start of every scan
func WithAmplifier(a lockin.Amplifier) Option {
	return func(c *Controller) { c.amp = a }
}

// WithDigitizer measures with a digitizer in place of the amplifier's output.
// If an amplifier is also given it is still configured but not read
func WithDigitizer(d daq.Digitizer) Option {
	return func(c *Controller) { c.dig = d }
}

// WithObserver sets the receiver of scan events
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.obs = o }
}

// WithRecorder sets the sample buffer
func WithRecorder(r *recorder.Recorder) Option {
	return func(c *Controller) { c.rec = r }
}

// WithOverhead sets the per-step overhead used for estimates
func WithOverhead(oh Overhead) Option {
	return func(c *Controller) { c.overhead = oh }
}

// WithPollInterval sets the granularity of the settle wait
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithQuiesceOnStop returns the amplifier to local control when a scan is
// stopped, if it supports it
func WithQuiesceOnStop(b bool) Option {
	return func(c *Controller) { c.quiesce = b }
}

// WithSavePolicy sets where finished sessions are written
func WithSavePolicy(p recorder.Policy) Option {
	return func(c *Controller) { c.save = p }
}

// Controller runs one scan at a time.  It is safe for concurrent use; the
// drivers it holds are only ever called from one goroutine at a time
type Controller struct {
	stage    motion.Stage
	amp      lockin.Amplifier
	dig      daq.Digitizer
	rec      *recorder.Recorder
	obs      Observer
	overhead Overhead
	poll     time.Duration
	quiesce  bool

	stop atomic.Bool

	mu      sync.Mutex
	save    recorder.Policy
	state   State
	leased  bool
	session *Session
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a controller driving stage
func New(stage motion.Stage, opts ...Option) *Controller {
	c := &Controller{
		stage:    stage,
		obs:      Nop{},
		overhead: FixedOverhead(0),
		poll:     DefaultPollInterval,
	}
	for _, o := range opts {
		o(c)
	}
	if c.rec == nil {
		c.rec = recorder.New()
	}
	return c
}

// State returns the current phase
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SavePolicy returns the policy applied to the next finished session
func (c *Controller) SavePolicy() recorder.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save
}

// SetSavePolicy changes the policy applied to the next finished session
func (c *Controller) SetSavePolicy(p recorder.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.save = p
}

// Estimate predicts the duration of a scan with p
func (c *Controller) Estimate(p Parameters) time.Duration {
	return Estimate(p, c.overhead)
}

// Session returns a snapshot of the current or last session.  ok is false if
// no scan has been started
func (c *Controller) Session() (s Session, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return s, false
	}
	s = *c.session
	if s.Outcome == OutcomeRunning {
		s.Samples = c.rec.Samples()
	} else {
		s.Samples = append([]recorder.Sample(nil), c.session.Samples...)
	}
	return s, true
}

// Exclusive runs fn while holding off scans.  It fails with ErrBusy if a scan
// or another exclusive operation is in progress
func (c *Controller) Exclusive(fn func() error) error {
	c.mu.Lock()
	if c.state != Idle || c.leased {
		c.mu.Unlock()
		return ErrBusy
	}
	c.leased = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.leased = false
		c.mu.Unlock()
	}()
	return fn()
}

// Busy is true while a scan or an exclusive operation is in progress
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != Idle || c.leased
}

// Start validates p, configures the amplifier and launches the scan on its own
// goroutine.  ctx bounds the whole scan, not just the call to Start.
// Invalid parameters are rejected before any instrument is commanded
func (c *Controller) Start(ctx context.Context, p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if c.stage == nil || (c.amp == nil && c.dig == nil) {
		return ErrNoSource
	}

	c.mu.Lock()
	if c.state != Idle || c.leased {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = Running
	c.stop.Store(false)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	policy := c.save
	c.mu.Unlock()

	settings, saveOK, err := c.prepare(p)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.state, c.cancel = Idle, nil
		c.mu.Unlock()
		close(done)
		return err
	}
	if !saveOK {
		policy.Enabled = false
	}

	sess := newSession(p, settings)
	c.rec.Reset()
	c.mu.Lock()
	c.session = sess
	c.lastErr = nil
	c.mu.Unlock()

	c.obs.Estimate(*sess, Estimate(p, c.overhead))
	go c.run(runCtx, cancel, sess, policy, done)
	return nil
}

// Run is the blocking form of Start.  The returned error is the fault that
// ended the scan, if any; a stopped scan is not an error
func (c *Controller) Run(ctx context.Context, p Parameters) (Session, error) {
	if err := c.Start(ctx, p); err != nil {
		return Session{}, err
	}
	c.Wait()
	s, _ := c.Session()
	c.mu.Lock()
	defer c.mu.Unlock()
	return s, c.lastErr
}

// Stop asks a running scan to finish.  It returns immediately; samples taken
// so far are kept.  Use Wait to block until the controller is idle
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return
	}
	c.state = Stopping
	c.stop.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
}

// Wait blocks until the current scan, if any, has finished
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// prepare applies and reads back the filter settings and runs the optional
// link and status checks.  saveOK is false if the link check failed
func (c *Controller) prepare(p Parameters) (settings lockin.Settings, saveOK bool, err error) {
	saveOK = true
	settings = lockin.Settings{TimeConstant: p.TimeConstant, Sensitivity: p.Sensitivity}
	if c.amp == nil {
		return settings, saveOK, nil
	}
	settings, err = lockin.Apply(c.amp, p.TimeConstant, p.Sensitivity)
	if err != nil {
		return settings, false, fmt.Errorf("configuring lock-in: %w", err)
	}
	if settings.TimeConstant != p.TimeConstant || settings.Sensitivity != p.Sensitivity {
		c.obs.Warning(fmt.Sprintf("lock-in reports %s / %s, requested %s / %s",
			settings.TimeConstant, settings.Sensitivity, p.TimeConstant, p.Sensitivity))
	}
	if pinger, ok := c.amp.(lockin.Pinger); ok {
		if err := pinger.Ping(); err != nil {
			c.obs.Warning(fmt.Sprintf("lock-in link check failed, this scan will not be saved: %v", err))
			saveOK = false
		}
	}
	c.checkStatus()
	return settings, saveOK, nil
}

func (c *Controller) checkStatus() {
	sc, ok := c.amp.(lockin.StatusChecker)
	if !ok {
		return
	}
	st, err := sc.CheckStatusByte()
	if err != nil {
		c.obs.Warning(fmt.Sprintf("reading lock-in status: %v", err))
		return
	}
	if !st.OK() {
		c.obs.Warning("lock-in status: " + st.String())
	}
}

func (c *Controller) sampler() sampler {
	if c.dig != nil {
		return digitizerSampler{c.dig}
	}
	return amplifierSampler{c.amp}
}

func (c *Controller) stopped(ctx context.Context) bool {
	return c.stop.Load() || ctx.Err() != nil
}

// classify turns a motion error into an outcome.  Errors caused by a stop
// request are not faults
func (c *Controller) classify(ctx context.Context, err error) (Outcome, error) {
	if c.stopped(ctx) && !motion.IsFault(err) {
		return OutcomeStopped, nil
	}
	return OutcomeFaulted, err
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, sess *Session, policy recorder.Policy, done chan struct{}) {
	defer close(done)
	defer cancel()

	p := sess.Params
	// settle on what the hardware is actually using
	settleP := p
	settleP.TimeConstant = sess.Settings.TimeConstant
	settle := seconds(settleP.SettleTime())

	n := p.StepCount()
	smp := c.sampler()
	began := time.Now()
	outcome, runErr := OutcomeCompleted, error(nil)

	if err := motion.MoveAndWait(ctx, c.stage, p.Start); err != nil {
		outcome, runErr = c.classify(ctx, err)
		n = 0
	} else if !c.settle(ctx, settle) {
		outcome, n = OutcomeStopped, 0
	}

	for i := 0; i < n; i++ {
		if c.stopped(ctx) {
			outcome = OutcomeStopped
			break
		}
		pos := p.Position(i)
		m, err := average(smp, p.Averaging)
		if err != nil {
			outcome, runErr = OutcomeFaulted, fmt.Errorf("measuring at %g: %w", pos, err)
			break
		}
		if m.skipped > 0 && m.ok {
			c.obs.Warning(fmt.Sprintf("%d of %d readings at %g produced no sample", m.skipped, p.Averaging, pos))
		}
		if m.ok {
			c.rec.Append(recorder.Sample{Position: pos, Value: m.x, Quadrature: m.y, Recovered: m.recovered})
		} else {
			c.obs.Warning(fmt.Sprintf("no readings at %g, position skipped", pos))
		}

		interrupted := false
		if i < n-1 {
			if err := motion.MoveAndWait(ctx, c.stage, p.Position(i+1)); err != nil {
				outcome, runErr = c.classify(ctx, err)
				interrupted = true
			} else if !c.settle(ctx, settle) {
				outcome, interrupted = OutcomeStopped, true
			}
		}

		c.obs.Progress(Progress{
			SessionID: sess.ID,
			Step:      i,
			Steps:     n,
			Position:  pos,
			Value:     m.x,
			HasValue:  m.ok,
			Recovered: m.recovered,
			Elapsed:   time.Since(began),
			Remaining: Remaining(p, c.overhead, i+1),
		})
		if interrupted {
			break
		}
	}

	if outcome == OutcomeStopped && c.quiesce {
		if q, ok := c.amp.(lockin.Quiescer); ok {
			if err := q.Quiesce(); err != nil {
				c.obs.Warning(fmt.Sprintf("quiescing lock-in: %v", err))
			}
		}
	}
	if outcome == OutcomeCompleted && c.amp != nil {
		c.checkStatus()
	}

	c.mu.Lock()
	sess.EndedAt = time.Now()
	sess.Outcome = outcome
	if runErr != nil {
		sess.Error = runErr.Error()
	}
	sess.Samples = c.rec.Samples()
	c.mu.Unlock()

	// flush clears the buffer regardless of the policy
	base, err := c.rec.Flush(sess.Run(), policy)
	if err != nil {
		c.obs.Warning(fmt.Sprintf("saving session %s: %v", sess.ID, err))
	}
	if base != "" {
		c.mu.Lock()
		sess.Saved = err == nil
		sess.File = base + ".dat"
		c.mu.Unlock()
	}

	c.mu.Lock()
	final := *sess
	c.mu.Unlock()
	c.obs.Finished(final)

	c.mu.Lock()
	c.state = Idle
	c.cancel = nil
	c.lastErr = runErr
	c.mu.Unlock()
}
