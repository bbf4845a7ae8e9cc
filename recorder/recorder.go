// Package recorder buffers the samples of a scan and persists them when the
// scan ends.
package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/thzlab/lightscan/lockin"
)

// TimestampLayout is the prefix given to every file of a run
const TimestampLayout = "20060102-15-04-05"

// Sample is one averaged measurement at one stage position.  Value is the
// in-phase output and Quadrature the out-of-phase one (0 for single channel
// sources).  Recovered is the number of zeroed readings folded into both
type Sample struct {
	Position   float64 `json:"position"`
	Value      float64 `json:"value"`
	Quadrature float64 `json:"quadrature"`
	Recovered  int     `json:"recovered,omitempty"`
}

// Run is the metadata of a finished scan
type Run struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   string
	Error     string

	Start        float64
	Stop         float64
	StepSize     float64
	Averaging    int
	PostMoveWait float64
	TimeConstant lockin.TimeConstant
	Sensitivity  lockin.Sensitivity
}

// Policy says whether and where a run is written
type Policy struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
	Label   string `yaml:"label" json:"label"`
	FITS    bool   `yaml:"fits" json:"fits"`
}

// Archive receives every saved run in addition to the files on disk
type Archive interface {
	Archive(Run, []Sample) error
}

// Recorder is an append-only, insertion ordered buffer of samples.  It is safe
// for one writer and any number of concurrent readers
type Recorder struct {
	mu      sync.RWMutex
	samples []Sample

	archives []Archive
}

// New creates a recorder that will also hand saved runs to archives
func New(archives ...Archive) *Recorder {
	return &Recorder{archives: archives}
}

// Reset empties the buffer
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
}

// Append adds s to the end of the buffer
func (r *Recorder) Append(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

// Samples returns a copy of the buffer
func (r *Recorder) Samples() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len is the number of buffered samples
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// Basename is the path of a run's files without suffix,
// <dir>/<yyyyMMdd-HH-mm-ss>_<label>
func Basename(run Run, p Policy) string {
	label := strings.TrimSpace(p.Label)
	if label == "" {
		label = "scan"
	}
	label = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, label)
	return filepath.Join(p.Dir, run.StartedAt.Format(TimestampLayout)+"_"+label)
}

// maxSiblings bounds the -2, -3, ... suffixes tried for one basename
const maxSiblings = 1000

// reserve exclusively creates the data file of a run.  When base.dat already
// exists, base-2.dat, base-3.dat and so on are tried; the basename actually
// used is returned
func reserve(base string) (*os.File, string, error) {
	for n := 1; n <= maxSiblings; n++ {
		b := base
		if n > 1 {
			b = fmt.Sprintf("%s-%d", base, n)
		}
		f, err := os.OpenFile(b+".dat", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, b, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("%d runs already named %s", maxSiblings, base)
}

// Flush persists the buffer according to p and then clears it.  The buffer is
// cleared whether or not p.Enabled is set or any sink fails.  Failures of
// individual sinks do not stop the others and are returned together.  The
// basename the files were written under is returned; it is empty when nothing
// was written.  Existing files are never overwritten
func (r *Recorder) Flush(run Run, p Policy) (string, error) {
	samples := r.Samples()
	defer r.Reset()
	if !p.Enabled {
		return "", nil
	}
	if p.Dir != "" {
		if err := os.MkdirAll(p.Dir, 0o755); err != nil {
			return "", err
		}
	}
	f, base, err := reserve(Basename(run, p))
	if err != nil {
		return "", fmt.Errorf("data file: %w", err)
	}

	var result error
	if err := writeCSVTo(f, samples); err != nil {
		result = multierror.Append(result, fmt.Errorf("data file: %w", err))
	}
	if err := writeParamsFile(base+"_params.yml", run, len(samples), recoveredCount(samples)); err != nil {
		result = multierror.Append(result, fmt.Errorf("params file: %w", err))
	}
	if p.FITS && len(samples) > 0 {
		if err := writeFITSFile(base+".fits", run, samples); err != nil {
			result = multierror.Append(result, fmt.Errorf("fits file: %w", err))
		}
	}
	for _, a := range r.archives {
		if err := a.Archive(run, samples); err != nil {
			result = multierror.Append(result, fmt.Errorf("archive: %w", err))
		}
	}
	if result == nil {
		log.Printf("saved %d samples to %s.dat\n", len(samples), base)
	}
	return base, result
}

func recoveredCount(samples []Sample) int {
	n := 0
	for _, s := range samples {
		n += s.Recovered
	}
	return n
}
