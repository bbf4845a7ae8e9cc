// Package demo provides synthetic instrument data for running without hardware
package demo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrEmpty is generated when a dataset would contain no values
var ErrEmpty = errors.New("dataset has no values")

// Dataset is a cyclic series of values with a cursor.  The values are fixed at
// construction; only the cursor moves.  Dataset is safe for concurrent use
type Dataset struct {
	mu     sync.Mutex
	values []float64
	cursor int
}

// New creates a dataset from a copy of values
func New(values []float64) (*Dataset, error) {
	if len(values) == 0 {
		return nil, ErrEmpty
	}
	v := make([]float64, len(values))
	copy(v, values)
	return &Dataset{values: v}, nil
}

// Next returns the value at the cursor and advances it, wrapping at the end
func (d *Dataset) Next() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.values[d.cursor%len(d.values)]
	d.cursor++
	return v
}

// Reset moves the cursor back to the first value
func (d *Dataset) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = 0
}

// Cursor returns the number of values consumed since the last reset
func (d *Dataset) Cursor() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// Len is the number of values in one cycle
func (d *Dataset) Len() int {
	return len(d.values)
}

// Sequence returns 0, 1, ..., n-1
func Sequence(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

// Pulse returns n samples of a single cycle terahertz transient, the first
// derivative of a gaussian, centered in the window with peak amplitude amp
func Pulse(n int, amp float64) []float64 {
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	center := float64(n-1) / 2
	width := float64(n) / 20
	if width == 0 {
		width = 1
	}
	// d/dt exp(-t^2/2w^2) peaks at t = w with height exp(-1/2)/w
	norm := amp * math.Exp(0.5)
	for i := range out {
		t := (float64(i) - center) / width
		out[i] = -norm * t * math.Exp(-t*t/2)
	}
	return out
}

// Load reads a dataset from CSV.  The last column of each row is the value;
// a non-numeric first row is treated as a header
func Load(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var values []float64
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[len(rec)-1]), 64)
		if err != nil {
			if row == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", row+1, err)
		}
		values = append(values, f)
	}
	return New(values)
}

// LoadFile reads a dataset from a CSV file on disk
func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
