package recorder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func testRun() Run {
	start := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	return Run{
		ID:           "b5d6f6e4-0000-4000-8000-000000000000",
		StartedAt:    start,
		EndedAt:      start.Add(42 * time.Second),
		Outcome:      "completed",
		Start:        0,
		Stop:         2,
		StepSize:     1,
		Averaging:    3,
		PostMoveWait: 1,
		TimeConstant: 4,
		Sensitivity:  20,
	}
}

func fill(r *Recorder) {
	r.Append(Sample{Position: 0, Value: 1})
	r.Append(Sample{Position: 1, Value: 0.5, Quadrature: 0.125, Recovered: 1})
	r.Append(Sample{Position: 2, Value: -0.25})
}

func TestAppendKeepsOrder(t *testing.T) {
	r := New()
	fill(r)
	s := r.Samples()
	require.Len(t, s, 3)
	assert.Equal(t, 0.0, s[0].Position)
	assert.Equal(t, 2.0, s[2].Position)

	// the copy is detached from the buffer
	s[0].Value = 99
	assert.Equal(t, 1.0, r.Samples()[0].Value)

	r.Reset()
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentReaders(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Append(Sample{Position: float64(i)})
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := r.Samples()
				for k := range s {
					if s[k].Position != float64(k) {
						t.Errorf("out of order at %d", k)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, r.Len())
}

func TestBasename(t *testing.T) {
	b := Basename(testRun(), Policy{Dir: "out", Label: "ref pulse"})
	assert.Equal(t, filepath.Join("out", "20240309-14-05-07_ref_pulse"), b)
	assert.Equal(t, "20240309-14-05-07_scan", Basename(testRun(), Policy{}))
}

func TestFlushWritesFiles(t *testing.T) {
	dir := t.TempDir()
	r := New()
	fill(r)
	p := Policy{Enabled: true, Dir: dir, Label: "sample", FITS: true}
	base, err := r.Flush(testRun(), p)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len(), "buffer not cleared")
	assert.Equal(t, filepath.Join(dir, "20240309-14-05-07_sample"), base)

	dat, err := os.ReadFile(base + ".dat")
	require.NoError(t, err)
	assert.Equal(t, "stagePosition,voltage\n0,1\n1,0.5\n2,-0.25\n", string(dat))

	raw, err := os.ReadFile(base + "_params.yml")
	require.NoError(t, err)
	var params Params
	require.NoError(t, yaml.Unmarshal(raw, &params))
	assert.Equal(t, 3, params.AveragingCount)
	assert.Equal(t, 1.0, params.PostMoveWaitFactor)
	assert.Equal(t, "100 ms", params.TimeConstant)
	assert.Equal(t, 1, params.RecoveredFrames)
	assert.Equal(t, "completed", params.Outcome)

	_, err = os.Stat(base + ".fits")
	assert.NoError(t, err)
}


func TestFlushNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	p := Policy{Enabled: true, Dir: dir, Label: "x"}
	r := New()
	fill(r)
	first, err := r.Flush(testRun(), p)
	require.NoError(t, err)

	// same start second, same label
	r.Append(Sample{Position: 7, Value: 7})
	second, err := r.Flush(testRun(), p)
	require.NoError(t, err)
	assert.Equal(t, first+"-2", second)

	dat, err := os.ReadFile(first + ".dat")
	require.NoError(t, err)
	assert.Equal(t, "stagePosition,voltage\n0,1\n1,0.5\n2,-0.25\n", string(dat))
	dat, err = os.ReadFile(second + ".dat")
	require.NoError(t, err)
	assert.Equal(t, "stagePosition,voltage\n7,7\n", string(dat))
	_, err = os.Stat(second + "_params.yml")
	assert.NoError(t, err)
}

func TestFlushDisabledStillClears(t *testing.T) {
	dir := t.TempDir()
	r := New()
	fill(r)
	base, err := r.Flush(testRun(), Policy{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "", base)
	assert.Equal(t, 0, r.Len())
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 0)
}

type failingArchive struct{ calls int }

func (f *failingArchive) Archive(Run, []Sample) error {
	f.calls++
	return errors.New("disk on fire")
}

func TestFlushAggregatesSinkErrors(t *testing.T) {
	dir := t.TempDir()
	a1, a2 := &failingArchive{}, &failingArchive{}
	r := New(a1, a2)
	fill(r)
	_, err := r.Flush(testRun(), Policy{Enabled: true, Dir: dir})
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "got %T", err)
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, 1, a1.calls)
	assert.Equal(t, 1, a2.calls)

	// the files still made it
	_, err = os.Stat(filepath.Join(dir, "20240309-14-05-07_scan.dat"))
	assert.NoError(t, err)
}

func TestWriteFITSBlocks(t *testing.T) {
	r := New()
	fill(r)
	var buf bytes.Buffer
	require.NoError(t, WriteFITS(&buf, testRun(), r.Samples()))
	assert.True(t, strings.HasPrefix(buf.String(), "SIMPLE  ="))
	assert.Equal(t, 0, buf.Len()%2880)
	assert.Contains(t, buf.String(), "SCANID")
}

func TestSQLiteArchiveRoundTrip(t *testing.T) {
	a := NewSQLiteArchive(filepath.Join(t.TempDir(), "runs.db"))
	defer a.Close()
	r := New(a)
	fill(r)
	want := r.Samples()
	_, err := r.Flush(testRun(), Policy{Enabled: true, Dir: t.TempDir()})
	require.NoError(t, err)

	got, err := a.Samples(context.Background(), testRun().ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// ids are unique
	assert.Error(t, a.Archive(testRun(), want))
}
