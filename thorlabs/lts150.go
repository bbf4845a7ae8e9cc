// Package thorlabs contains drivers for Thorlabs motion hardware
package thorlabs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/thzlab/lightscan/comm"
	"github.com/thzlab/lightscan/motion"
)

const (
	// DefaultBaud is the rate of the stage's microcontroller bridge
	DefaultBaud = 9600

	// DefaultHomeTimeout bounds Home
	DefaultHomeTimeout = 60 * time.Second

	// DefaultMoveTimeout bounds WaitForMovement
	DefaultMoveTimeout = 30 * time.Second

	// PollPeriod is the spacing between reads while waiting for "done"
	PollPeriod = 100 * time.Millisecond

	doneToken  = "done"
	aliveToken = "alive"
)

func makeSerConf(addr string, baud int) *serial.Config {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 100 * time.Millisecond}
}

// LTS150 is an LTS150 linear stage behind a microcontroller bridge that
// speaks a line protocol: query/alive, init, go <n>, and done on completion
type LTS150 struct {
	*comm.RemoteDevice

	HomeTimeout time.Duration
	MoveTimeout time.Duration

	// Settle is how long to let the bridge boot after the port opens
	Settle time.Duration

	alive bool
	pos   float64
}

// NewLTS150 creates a new stage on the given serial port
func NewLTS150(addr string, baud int) *LTS150 {
	rd := comm.NewRemoteDevice(addr, true, &comm.Terminators{Tx: '\n', Rx: '\n'}, makeSerConf(addr, baud))
	return &LTS150{
		RemoteDevice: &rd,
		HomeTimeout:  DefaultHomeTimeout,
		MoveTimeout:  DefaultMoveTimeout,
		Settle:       time.Second}
}

func (l *LTS150) writeLine(cmd string) error {
	return l.Write([]byte(cmd + " \r\n"))
}

// readAll reads until the line goes quiet
func (l *LTS150) readAll() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := l.Poll()
		if err != nil {
			return buf.String(), err
		}
		if len(b) == 0 {
			return buf.String(), nil
		}
		buf.Write(b)
	}
}

// Open connects to the bridge and performs the liveness handshake.  A failed
// handshake is logged and leaves Alive false, but is not an error
func (l *LTS150) Open() error {
	if err := l.RemoteDevice.Open(); err != nil {
		return err
	}
	if l.Settle > 0 {
		time.Sleep(l.Settle)
	}
	// the first reply runs down whatever the bridge printed at boot
	for i := 0; i < 2; i++ {
		if err := l.writeLine("query"); err != nil {
			return err
		}
		resp, err := l.readAll()
		if err != nil {
			return err
		}
		if i == 1 {
			l.alive = strings.TrimSpace(resp) == aliveToken
			if !l.alive {
				log.Printf("LTS150 %s did not answer the handshake, got %q\n", l.Addr, resp)
			}
		}
	}
	return nil
}

// Alive is true if the last Open found the bridge
func (l *LTS150) Alive() bool {
	return l.alive
}

// Position returns the last commanded position
func (l *LTS150) Position() float64 {
	return l.pos
}

// Home drives the stage to its reference and waits for it to arrive
func (l *LTS150) Home(ctx context.Context) error {
	start := time.Now()
	if err := l.writeLine("init"); err != nil {
		return &motion.Fault{Op: "home", Err: err}
	}
	err := l.waitForDone(ctx, l.HomeTimeout, motion.ErrHomingTimeout)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, motion.ErrHomingTimeout) {
			return err
		}
		return &motion.Fault{Op: "home", Elapsed: time.Since(start), Err: err}
	}
	l.pos = 0
	return nil
}

// Move commands a move to an absolute step position, truncated to a whole
// step.  It does not wait
func (l *LTS150) Move(pos float64) error {
	if err := l.writeLine(fmt.Sprintf("go %d", int(pos))); err != nil {
		return err
	}
	l.pos = pos
	return nil
}

// WaitForMovement blocks until the bridge reports done, MoveTimeout elapses
// or ctx is cancelled
func (l *LTS150) WaitForMovement(ctx context.Context) error {
	start := time.Now()
	err := l.waitForDone(ctx, l.MoveTimeout, motion.ErrMovementTimeout)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, motion.ErrMovementTimeout) {
			return err
		}
		return &motion.Fault{Op: "move", Pos: l.pos, Elapsed: time.Since(start), Err: err}
	}
	return nil
}

// waitForDone polls for the done token, accumulating bytes so a token split
// across reads is still found.  Cancellation of ctx returns ctx.Err();
// expiry of timeout returns timeoutErr
func (l *LTS150) waitForDone(ctx context.Context, timeout time.Duration, timeoutErr error) error {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	lim := rate.NewLimiter(rate.Every(PollPeriod), 1)
	var acc bytes.Buffer
	for {
		if err := lim.Wait(wctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return timeoutErr
		}
		b, err := l.Poll()
		if err != nil {
			return err
		}
		acc.Write(b)
		if bytes.Contains(acc.Bytes(), []byte(doneToken)) {
			return nil
		}
		// only a partial token can straddle reads
		if acc.Len() > len(doneToken) {
			tail := acc.Bytes()[acc.Len()-len(doneToken):]
			acc.Reset()
			acc.Write(tail)
		}
	}
}
