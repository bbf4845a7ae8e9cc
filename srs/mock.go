package srs

import (
	"sync"

	"github.com/thzlab/lightscan/comm"
	"github.com/thzlab/lightscan/demo"
	"github.com/thzlab/lightscan/lockin"
)

// Mock is a simulated lock-in.  X is drawn from a demo dataset and Y is zero.
// Settings round trip exactly
type Mock struct {
	sync.Mutex
	data   *demo.Dataset
	tc     lockin.TimeConstant
	sens   lockin.Sensitivity
	status lockin.Status
	open   bool

	commands map[string]int
}

// NewMock creates a simulated amplifier reading from data
func NewMock(data *demo.Dataset) *Mock {
	return &Mock{data: data, commands: make(map[string]int)}
}

func (m *Mock) count(cmd string) {
	m.commands[cmd]++
}

// Commands returns how many times the named operation has been called
func (m *Mock) Commands(name string) int {
	m.Lock()
	defer m.Unlock()
	return m.commands[name]
}

// Open marks the mock connected
func (m *Mock) Open() error {
	m.Lock()
	defer m.Unlock()
	m.count("open")
	m.open = true
	return nil
}

// Close marks the mock disconnected
func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()
	m.count("close")
	m.open = false
	return nil
}

// Measure returns the next value of the dataset as X
func (m *Mock) Measure() (lockin.Reading, error) {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return lockin.Reading{}, comm.ErrNotConnected
	}
	m.count("measure")
	return lockin.Reading{X: m.data.Next()}, nil
}

// SetTimeConstant stores tc
func (m *Mock) SetTimeConstant(tc lockin.TimeConstant) error {
	if err := tc.Check(); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.count("setTimeConstant")
	m.tc = tc
	return nil
}

// GetTimeConstant returns the last accepted time constant
func (m *Mock) GetTimeConstant() (lockin.TimeConstant, error) {
	m.Lock()
	defer m.Unlock()
	return m.tc, nil
}

// SetSensitivity stores sens
func (m *Mock) SetSensitivity(sens lockin.Sensitivity) error {
	if err := sens.Check(); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.count("setSensitivity")
	m.sens = sens
	return nil
}

// GetSensitivity returns the last accepted sensitivity
func (m *Mock) GetSensitivity() (lockin.Sensitivity, error) {
	m.Lock()
	defer m.Unlock()
	return m.sens, nil
}

// SetStatus sets the status byte CheckStatusByte will report
func (m *Mock) SetStatus(s lockin.Status) {
	m.Lock()
	defer m.Unlock()
	m.status = s
}

// CheckStatusByte returns the status set with SetStatus, zero by default
func (m *Mock) CheckStatusByte() (lockin.Status, error) {
	m.Lock()
	defer m.Unlock()
	m.count("status")
	return m.status, nil
}

// StandardSetup records the call
func (m *Mock) StandardSetup() error {
	m.Lock()
	defer m.Unlock()
	m.count("standardSetup")
	return nil
}

// Ping always succeeds while open
func (m *Mock) Ping() error {
	m.Lock()
	defer m.Unlock()
	m.count("ping")
	if !m.open {
		return comm.ErrNotConnected
	}
	return nil
}

// Quiesce records the call
func (m *Mock) Quiesce() error {
	m.Lock()
	defer m.Unlock()
	m.count("quiesce")
	return nil
}

// Raw echoes cmd
func (m *Mock) Raw(cmd string) (string, error) {
	m.Lock()
	defer m.Unlock()
	m.count("raw")
	return cmd, nil
}

// Reset rewinds the dataset
func (m *Mock) Reset() {
	m.data.Reset()
}
