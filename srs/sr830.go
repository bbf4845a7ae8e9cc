// Package srs contains drivers for Stanford Research Systems lock-in amplifiers
package srs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"github.com/thzlab/lightscan/comm"
	"github.com/thzlab/lightscan/lockin"
)

const (
	// FrameSize is the width of a QX/QY reply, e.g. "+1.2345E-03"
	FrameSize = 11

	// DefaultFlushSettle is the pause after draining a garbled frame
	DefaultFlushSettle = 100 * time.Millisecond

	// DefaultBaud is the factory serial rate
	DefaultBaud = 19200
)

var (
	// ErrBadResponse is generated when a query reply cannot be decoded
	ErrBadResponse = errors.New("malformed response from lock-in")

	// ErrPingMismatch is generated when the link check does not echo the expected reply
	ErrPingMismatch = errors.New("lock-in did not answer link check")
)

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
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
		ReadTimeout: 30 * time.Millisecond}
}

// SR830 talks to an SR830 (or SR530 command set) lock-in amplifier over RS-232
type SR830 struct {
	*comm.RemoteDevice

	// FlushSettle is how long to wait after draining a garbled reply
	FlushSettle time.Duration
}

// NewSR830 creates a new SR830 on the given serial port
func NewSR830(addr string, baud int) *SR830 {
	rd := comm.NewRemoteDevice(addr, true, nil, makeSerConf(addr, baud))
	return &SR830{RemoteDevice: &rd, FlushSettle: DefaultFlushSettle}
}

// Open connects to the amplifier
func (s *SR830) Open() error {
	return s.RemoteDevice.Open()
}

// Close disconnects from the amplifier
func (s *SR830) Close() error {
	return s.RemoteDevice.Close()
}

// receiveFloat reads one fixed width float frame.  Garbled or short frames are
// zeroed and the line is drained once; ok is false in that case.  err is only
// non-nil when the link is gone
func (s *SR830) receiveFloat() (v float64, ok bool, err error) {
	buf, err := s.ReadN(FrameSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, comm.ErrNotConnected) {
			return 0, false, err
		}
		log.Printf("SR830 %s read error %v, treating frame as garbled\n", s.Addr, err)
	}
	if err == nil {
		v, perr := strconv.ParseFloat(strings.TrimSpace(string(buf)), 64)
		if perr == nil {
			return v, true, nil
		}
	}
	residual := s.Drain()
	if s.FlushSettle > 0 {
		time.Sleep(s.FlushSettle)
	}
	log.Printf("SR830 %s float decode failed on %q, flushed %q\n", s.Addr, buf, residual)
	return 0, false, nil
}

func (s *SR830) queryFloat(cmd string) (float64, bool, error) {
	if err := s.Send([]byte(cmd)); err != nil {
		return 0, false, err
	}
	return s.receiveFloat()
}

// Measure reads the X and Y outputs
func (s *SR830) Measure() (lockin.Reading, error) {
	var r lockin.Reading
	x, okX, err := s.queryFloat("QX")
	if err != nil {
		return r, err
	}
	y, okY, err := s.queryFloat("QY")
	if err != nil {
		return r, err
	}
	r.X, r.Y = x, y
	r.Recovered = !okX || !okY
	return r, nil
}

func (s *SR830) queryInt(cmd string) (int, error) {
	resp, err := s.SendRecv([]byte(cmd))
	if err != nil {
		return 0, err
	}
	str := strings.TrimSpace(string(bytes.Trim(resp, "\r\n")))
	i, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("%w: %s replied %q", ErrBadResponse, cmd, str)
	}
	return i, nil
}

// SetTimeConstant selects the pre filter time constant
func (s *SR830) SetTimeConstant(tc lockin.TimeConstant) error {
	cmd, err := tc.Command()
	if err != nil {
		return err
	}
	return s.Send([]byte(cmd))
}

// GetTimeConstant queries the pre filter time constant.  The reported step is
// snapped onto the table
func (s *SR830) GetTimeConstant() (lockin.TimeConstant, error) {
	n, err := s.queryInt("T 1")
	if err != nil {
		return 0, err
	}
	return snapTimeConstant(n - 1), nil
}

// SetSensitivity selects the full scale sensitivity
func (s *SR830) SetSensitivity(sens lockin.Sensitivity) error {
	cmd, err := sens.Command()
	if err != nil {
		return err
	}
	return s.Send([]byte(cmd))
}

// GetSensitivity queries the full scale sensitivity.  Gain codes below the
// table snap to its first entry
func (s *SR830) GetSensitivity() (lockin.Sensitivity, error) {
	n, err := s.queryInt("G")
	if err != nil {
		return 0, err
	}
	return snapSensitivity(n - lockin.FirstSensitivityCode), nil
}

func snapTimeConstant(i int) lockin.TimeConstant {
	if i < 0 {
		return 0
	}
	if i >= lockin.NumTimeConstants {
		return lockin.NumTimeConstants - 1
	}
	return lockin.TimeConstant(i)
}

func snapSensitivity(i int) lockin.Sensitivity {
	if i < 0 {
		return 0
	}
	if i >= lockin.NumSensitivities {
		return lockin.NumSensitivities - 1
	}
	return lockin.Sensitivity(i)
}

// CheckStatusByte reads and decodes the status byte
func (s *SR830) CheckStatusByte() (lockin.Status, error) {
	n, err := s.queryInt("Y")
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("%w: status byte %d", ErrBadResponse, n)
	}
	st := lockin.Status(n)
	if !st.OK() {
		log.Printf("SR830 %s status %08b: %s\n", s.Addr, n, st)
	}
	return st, nil
}

// StandardSetup zeroes the character wait, engages the band pass filter, sets
// the post filter to 0.1 s and disengages both line notch filters
func (s *SR830) StandardSetup() error {
	for _, cmd := range []string{"W0", "B1", "T2,1", "L1,0", "L2,0"} {
		if err := s.Send([]byte(cmd)); err != nil {
			return err
		}
	}
	return nil
}

// Ping queries the character wait, which is zero after StandardSetup
func (s *SR830) Ping() error {
	resp, err := s.SendRecv([]byte("W"))
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(resp)) != "0" {
		return fmt.Errorf("%w: got %q", ErrPingMismatch, resp)
	}
	return nil
}

// Quiesce returns the front panel to local control
func (s *SR830) Quiesce() error {
	return s.Send([]byte("I0"))
}

// Raw sends a command and returns the reply, if one arrives before the read timeout
func (s *SR830) Raw(cmd string) (string, error) {
	if err := s.Send([]byte(cmd)); err != nil {
		return "", err
	}
	resp, err := s.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		return string(resp), err
	}
	return string(resp), nil
}
