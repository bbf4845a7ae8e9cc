package scan

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func example() Parameters {
	return Parameters{Start: 0, Stop: 10, StepSize: 1, Averaging: 3, PostMoveWait: 1, TimeConstant: 4, Sensitivity: 20}
}

func TestStepCount(t *testing.T) {
	cases := []struct {
		start, stop, step float64
		want              int
	}{
		{0, 10, 1, 11},
		{0, 1, 0.1, 11},
		{5, 5, 1, 1},
		{10, 0, -1, 11},
		{0, 10, 3, 4},
		{0, 10, -1, 0},
		{0, 10, 0, 0},
	}
	for _, c := range cases {
		p := example()
		p.Start, p.Stop, p.StepSize = c.start, c.stop, c.step
		assert.Equal(t, c.want, p.StepCount(), "%g..%g by %g", c.start, c.stop, c.step)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, example().Validate())

	bad := map[string]func(*Parameters){
		"stepSize":     func(p *Parameters) { p.StepSize = 0 },
		"averaging":    func(p *Parameters) { p.Averaging = 0 },
		"postMoveWait": func(p *Parameters) { p.PostMoveWait = -1 },
		"timeConstant": func(p *Parameters) { p.TimeConstant = 11 },
		"sensitivity":  func(p *Parameters) { p.Sensitivity = -1 },
		"stop":         func(p *Parameters) { p.Stop = math.Inf(1) },
	}
	for field, mutate := range bad {
		p := example()
		mutate(&p)
		var pe ParameterError
		err := p.Validate()
		if assert.True(t, errors.As(err, &pe), "%s: got %v", field, err) {
			assert.Equal(t, field, pe.Field)
		}
	}

	p := example()
	p.StepSize = -1
	var pe ParameterError
	assert.True(t, errors.As(p.Validate(), &pe))
}

func TestEstimateExample(t *testing.T) {
	p := example()
	// (0.1 s * 2 * 3 + 0) * 11
	assert.InDelta(t, 6.6, Estimate(p, FixedOverhead(0)).Seconds(), 1e-9)
	assert.InDelta(t, (0.6+0.05)*11, Estimate(p, FixedOverhead(50*time.Millisecond)).Seconds(), 1e-9)
}

func TestEstimateMonotone(t *testing.T) {
	oh := FixedOverhead(10 * time.Millisecond)
	prev := time.Duration(0)
	for avg := 1; avg < 6; avg++ {
		p := example()
		p.Averaging = avg
		d := Estimate(p, oh)
		assert.True(t, d > prev, "averaging %d", avg)
		prev = d
	}
	prev = 0
	for f := 0.; f < 5; f++ {
		p := example()
		p.PostMoveWait = f
		d := Estimate(p, oh)
		assert.True(t, d > prev, "factor %g", f)
		prev = d
	}
}

func TestEstimateInvalidIsZero(t *testing.T) {
	p := example()
	p.StepSize = 0
	assert.Equal(t, time.Duration(0), Estimate(p, FixedOverhead(time.Second)))
}

func TestVelocityOverhead(t *testing.T) {
	p := example()
	p.StepSize = -12
	assert.InDelta(t, 0.1, VelocityOverhead(120)(p).Seconds(), 1e-9)
	assert.InDelta(t, 0.1, VelocityOverhead(0)(p).Seconds(), 1e-9)
}

func TestRemaining(t *testing.T) {
	p := example()
	oh := FixedOverhead(0)
	assert.Equal(t, Estimate(p, oh), Remaining(p, oh, 0))
	assert.Equal(t, StepDuration(p, oh), Remaining(p, oh, 10))
	assert.Equal(t, time.Duration(0), Remaining(p, oh, 11))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1hrs, 02mins, 03secs", FormatDuration(3723*time.Second))
	assert.Equal(t, "0hrs, 00mins, 07secs", FormatDuration(6600*time.Millisecond))
}

func TestPositionSnapsToGrid(t *testing.T) {
	p := Parameters{Start: 0, Stop: 1, StepSize: 0.1}
	assert.Equal(t, 0.3, p.Position(3))
	assert.Equal(t, 0.7, p.Position(7))
	assert.Equal(t, 1., p.Position(10))
}

func TestWholeStepPositionsAreExact(t *testing.T) {
	p := Parameters{Start: 0, Stop: 10, StepSize: 1}
	for i := 0; i < p.StepCount(); i++ {
		assert.Equal(t, float64(i), p.Position(i))
	}
	p = Parameters{Start: 5, Stop: 25, StepSize: 2.5}
	assert.Equal(t, 7.5, p.Position(1))
	assert.Equal(t, 25., p.Position(8))
}
