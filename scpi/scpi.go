// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/thzlab/lightscan/comm"
)

// DeviceError is an entry from the device's error queue, e.g.
// `-113,"Undefined header"`
type DeviceError struct {
	Code int
	Msg  string
}

func (e DeviceError) Error() string {
	return fmt.Sprintf("%d - %s", e.Code, e.Msg)
}

// ErrEmptyResponse is generated when the device replies with nothing
var ErrEmptyResponse = errors.New("empty response from SCPI device")

// parseError decodes a SYSTem:ERRor? reply.  "+0,..." means no error and
// returns nil
func parseError(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return ErrEmptyResponse
	}
	pieces := strings.SplitN(s, ",", 2)
	code, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return fmt.Errorf("unparseable error queue entry %q", s)
	}
	if code == 0 {
		return nil
	}
	msg := ""
	if len(pieces) > 1 {
		msg = strings.Trim(strings.TrimSpace(pieces[1]), "\"")
	}
	return DeviceError{Code: code, Msg: msg}
}

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	*comm.RemoteDevice

	mu sync.Mutex

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool
}

func (s *SCPI) frame(cmds []string) string {
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	return strings.Join(cmds, " ")
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// It is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Open(); err != nil {
		return err
	}
	str := s.frame(cmds)
	if !s.Handshaking {
		return s.Send([]byte(str))
	}
	resp, err := s.SendRecv([]byte(str))
	if err != nil {
		return err
	}
	return parseError(string(resp))
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Open(); err != nil {
		return nil, err
	}
	resp, err := s.SendRecv([]byte(s.frame(cmds)))
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		if err := parseError(string(pieces[len(pieces)-1])); err != nil {
			return resp, err
		}
		resp = bytes.Join(pieces[:len(pieces)-1], []byte{';'})
	}
	return resp, nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimRight(string(resp), "\r\n"), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	if resp == "" {
		return 0, ErrEmptyResponse
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Raw sends a command and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return parseError(str)
}
