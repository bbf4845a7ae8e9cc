package lockin

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

type step struct {
	cmd   string
	value float64
}

var (
	timeConstants = []step{
		{"T 1,1", 1e-3},
		{"T 1,2", 3e-3},
		{"T 1,3", 10e-3},
		{"T 1,4", 30e-3},
		{"T 1,5", 100e-3},
		{"T 1,6", 300e-3},
		{"T 1,7", 1},
		{"T 1,8", 3},
		{"T 1,9", 10},
		{"T 1,10", 30},
		{"T 1,11", 100},
	}

	// full scale
	sensitivities = []step{
		{"G 4", 100e-9},
		{"G 5", 200e-9},
		{"G 6", 500e-9},
		{"G 7", 1e-6},
		{"G 8", 2e-6},
		{"G 9", 5e-6},
		{"G 10", 10e-6},
		{"G 11", 20e-6},
		{"G 12", 50e-6},
		{"G 13", 100e-6},
		{"G 14", 200e-6},
		{"G 15", 500e-6},
		{"G 16", 1e-3},
		{"G 17", 2e-3},
		{"G 18", 5e-3},
		{"G 19", 10e-3},
		{"G 20", 20e-3},
		{"G 21", 50e-3},
		{"G 22", 100e-3},
		{"G 23", 200e-3},
		{"G 24", 500e-3},
	}
)

const (
	// NumTimeConstants is the length of the time constant table
	NumTimeConstants = 11

	// NumSensitivities is the length of the sensitivity table
	NumSensitivities = 21

	// FirstSensitivityCode is the device gain code of Sensitivity(0)
	FirstSensitivityCode = 4
)

// TimeConstant is an index into the table of low pass filter time constants,
// 0 => 1 ms ... 10 => 100 s
type TimeConstant int

// Valid returns true if tc is inside the table
func (tc TimeConstant) Valid() bool {
	return tc >= 0 && int(tc) < len(timeConstants)
}

// Check returns an IndexError if tc is outside the table
func (tc TimeConstant) Check() error {
	if !tc.Valid() {
		return IndexError{Table: "time constant", Index: int(tc), Len: len(timeConstants)}
	}
	return nil
}

// Seconds returns the duration of the time constant in seconds
func (tc TimeConstant) Seconds() float64 {
	if !tc.Valid() {
		return 0
	}
	return timeConstants[tc].value
}

// Command returns the device command that selects tc
func (tc TimeConstant) Command() (string, error) {
	if err := tc.Check(); err != nil {
		return "", err
	}
	return timeConstants[tc].cmd, nil
}

func (tc TimeConstant) String() string {
	if !tc.Valid() {
		return "invalid"
	}
	return label(tc.Seconds(), "s")
}

// Sensitivity is an index into the table of full scale input ranges,
// 0 => 100 nV ... 20 => 500 mV
type Sensitivity int

// Valid returns true if s is inside the table
func (s Sensitivity) Valid() bool {
	return s >= 0 && int(s) < len(sensitivities)
}

// Check returns an IndexError if s is outside the table
func (s Sensitivity) Check() error {
	if !s.Valid() {
		return IndexError{Table: "sensitivity", Index: int(s), Len: len(sensitivities)}
	}
	return nil
}

// Volts returns the full scale of s in volts
func (s Sensitivity) Volts() float64 {
	if !s.Valid() {
		return 0
	}
	return sensitivities[s].value
}

// Command returns the device command that selects s
func (s Sensitivity) Command() (string, error) {
	if err := s.Check(); err != nil {
		return "", err
	}
	return sensitivities[s].cmd, nil
}

func (s Sensitivity) String() string {
	if !s.Valid() {
		return "invalid"
	}
	return label(s.Volts(), "V")
}

// label renders v with an SI prefix, e.g. "300 ms", "1 s", "500 nV"
func label(v float64, unit string) string {
	// nudge decade boundaries so 1e-6 lands on "1 µ" and not "1000 n"
	value, prefix := humanize.ComputeSI(v * (1 + 1e-9))
	return strconv.FormatFloat(math.Round(value), 'f', -1, 64) + " " + prefix + unit
}

func normalizeLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "µ", "u")
	s = strings.ReplaceAll(s, "μ", "u")
	return s
}

// ParseTimeConstant finds the table entry with the given label, e.g. "300 ms"
func ParseTimeConstant(s string) (TimeConstant, error) {
	want := normalizeLabel(s)
	for i := range timeConstants {
		tc := TimeConstant(i)
		if normalizeLabel(tc.String()) == want {
			return tc, nil
		}
	}
	return 0, fmt.Errorf("time constant %q: %w", s, ErrUnknownLabel)
}

// ParseSensitivity finds the table entry with the given label, e.g. "500 mV"
func ParseSensitivity(s string) (Sensitivity, error) {
	want := normalizeLabel(s)
	for i := range sensitivities {
		sens := Sensitivity(i)
		if normalizeLabel(sens.String()) == want {
			return sens, nil
		}
	}
	return 0, fmt.Errorf("sensitivity %q: %w", s, ErrUnknownLabel)
}

// NearestTimeConstant returns the table entry closest to secs on a log scale
func NearestTimeConstant(secs float64) TimeConstant {
	return TimeConstant(nearest(timeConstants, secs))
}

// NearestSensitivity returns the table entry closest to volts on a log scale
func NearestSensitivity(volts float64) Sensitivity {
	return Sensitivity(nearest(sensitivities, volts))
}

func nearest(table []step, v float64) int {
	if v <= 0 {
		return 0
	}
	best, bestDist := 0, math.Inf(1)
	lv := math.Log(v)
	for i, s := range table {
		d := math.Abs(math.Log(s.value) - lv)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// TimeConstants returns every time constant in table order
func TimeConstants() []TimeConstant {
	out := make([]TimeConstant, len(timeConstants))
	for i := range out {
		out[i] = TimeConstant(i)
	}
	return out
}

// Sensitivities returns every sensitivity in table order
func Sensitivities() []Sensitivity {
	out := make([]Sensitivity, len(sensitivities))
	for i := range out {
		out[i] = Sensitivity(i)
	}
	return out
}
