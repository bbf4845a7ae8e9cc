package daq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thzlab/lightscan/demo"
)

func TestNoSampleWraps(t *testing.T) {
	err := NoSample(errors.New("timeout"))
	assert.True(t, errors.Is(err, ErrNoSample))
	assert.Contains(t, err.Error(), "timeout")
	assert.Nil(t, NoSample(nil))
}

func TestMockDrops(t *testing.T) {
	d, err := demo.New(demo.Sequence(10))
	require.NoError(t, err)
	m := NewMock(d)
	m.DropEvery = 3

	var got []float64
	drops := 0
	for i := 0; i < 6; i++ {
		v, err := m.Measure()
		if errors.Is(err, ErrNoSample) {
			drops++
			continue
		}
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, 2, drops)
	assert.Equal(t, []float64{0, 1, 2, 3}, got)
	assert.Equal(t, 6, m.Calls())
}
