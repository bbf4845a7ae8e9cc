package demo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetCycles(t *testing.T) {
	d, err := New([]float64{1, 2, 3})
	require.NoError(t, err)
	got := []float64{d.Next(), d.Next(), d.Next(), d.Next()}
	assert.Equal(t, []float64{1, 2, 3, 1}, got)
	assert.Equal(t, 4, d.Cursor())

	d.Reset()
	assert.Equal(t, 0, d.Cursor())
	assert.Equal(t, 1.0, d.Next())
}

func TestDatasetCopiesInput(t *testing.T) {
	in := []float64{5}
	d, err := New(in)
	require.NoError(t, err)
	in[0] = 9
	assert.Equal(t, 5.0, d.Next())
}

func TestNewEmpty(t *testing.T) {
	_, err := New(nil)
	assert.Equal(t, ErrEmpty, err)
}

func TestSequence(t *testing.T) {
	assert.Equal(t, []float64{0, 1, 2}, Sequence(3))
}

func TestPulseShape(t *testing.T) {
	p := Pulse(201, 1)
	require.Len(t, p, 201)
	assert.InDelta(t, 0, p[100], 1e-12)

	max, min := 0., 0.
	for _, v := range p {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	assert.InDelta(t, 1, max, 1e-2)
	assert.InDelta(t, -1, min, 1e-2)
}

func TestLoadCSV(t *testing.T) {
	src := "stagePosition,voltage\n0,0.5\n1,-0.25\n2,1e-3\n"
	d, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 0.5, d.Next())
	assert.Equal(t, -0.25, d.Next())
}

func TestLoadCSVBadRow(t *testing.T) {
	_, err := Load(strings.NewReader("1\nfoo\n"))
	assert.Error(t, err)
}
