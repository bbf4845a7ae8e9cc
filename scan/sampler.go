package scan

import (
	"errors"

	"github.com/thzlab/lightscan/daq"
	"github.com/thzlab/lightscan/lockin"
)

// errSkip marks a reading that produced no value and should not be averaged
var errSkip = errors.New("reading skipped")

// sampler yields the in-phase and quadrature values measured at a position.
// Sources with a single output report y as 0
type sampler interface {
	sample() (x, y float64, recovered bool, err error)
}

type amplifierSampler struct {
	a lockin.Amplifier
}

func (s amplifierSampler) sample() (float64, float64, bool, error) {
	r, err := s.a.Measure()
	if err != nil {
		return 0, 0, false, err
	}
	return r.X, r.Y, r.Recovered, nil
}

type digitizerSampler struct {
	d daq.Digitizer
}

func (s digitizerSampler) sample() (float64, float64, bool, error) {
	v, err := s.d.Measure()
	if errors.Is(err, daq.ErrNoSample) {
		return 0, 0, false, errSkip
	}
	return v, 0, false, err
}

// stepMean is the average of the readings at one position.  ok is false when
// every reading was skipped
type stepMean struct {
	x, y      float64
	recovered int
	skipped   int
	ok        bool
}

// average takes n readings
func average(s sampler, n int) (stepMean, error) {
	var m stepMean
	var sumX, sumY float64
	taken := 0
	for i := 0; i < n; i++ {
		x, y, rec, err := s.sample()
		if errors.Is(err, errSkip) {
			m.skipped++
			continue
		}
		if err != nil {
			return m, err
		}
		if rec {
			m.recovered++
		}
		sumX += x
		sumY += y
		taken++
	}
	if taken > 0 {
		m.x, m.y = sumX/float64(taken), sumY/float64(taken)
		m.ok = true
	}
	return m, nil
}
