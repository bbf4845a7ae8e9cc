// Package daq describes single channel digitizers used in place of a lock-in
// amplifier as the measured quantity of a scan.
package daq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/thzlab/lightscan/demo"
)

// ErrNoSample is generated when a digitizer could not produce a value for this
// tick.  It is not fatal; the caller decides whether to skip the reading
var ErrNoSample = errors.New("no sample acquired")

// Digitizer produces one voltage sample per call
type Digitizer interface {
	// Open establishes the connection
	Open() error

	// Close releases the connection
	Close() error

	// Measure acquires one sample in volts
	Measure() (float64, error)
}

// NoSample wraps err so that errors.Is(result, ErrNoSample) holds
func NoSample(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrNoSample, err)
}

// Mock is a simulated digitizer reading from a demo dataset.  DropEvery, when
// positive, makes every DropEvery-th call fail with ErrNoSample
type Mock struct {
	sync.Mutex
	data  *demo.Dataset
	calls int

	DropEvery int
}

// NewMock creates a simulated digitizer
func NewMock(data *demo.Dataset) *Mock {
	return &Mock{data: data}
}

// Open does nothing
func (m *Mock) Open() error { return nil }

// Close does nothing
func (m *Mock) Close() error { return nil }

// Measure returns the next value of the dataset
func (m *Mock) Measure() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.calls++
	if m.DropEvery > 0 && m.calls%m.DropEvery == 0 {
		return 0, NoSample(errors.New("simulated acquisition dropout"))
	}
	return m.data.Next(), nil
}

// Calls returns the number of Measure calls
func (m *Mock) Calls() int {
	m.Lock()
	defer m.Unlock()
	return m.calls
}
