package recorder

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// CSVHeader is the first row of every data file
var CSVHeader = []string{"stagePosition", "voltage"}

// WriteCSV writes samples as position,value rows under CSVHeader
func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			strconv.FormatFloat(s.Position, 'g', -1, 64),
			strconv.FormatFloat(s.Value, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeCSVTo(f *os.File, samples []Sample) (err error) {
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WriteCSV(f, samples)
}

// Params is the sidecar written next to a data file
type Params struct {
	Start              float64 `yaml:"start"`
	Stop               float64 `yaml:"stop"`
	StepSize           float64 `yaml:"stepSize"`
	TimeConstant       string  `yaml:"timeConstant"`
	Sensitivity        string  `yaml:"sensitivity"`
	PostMoveWaitFactor float64 `yaml:"postMoveWaitFactor"`
	AveragingCount     int     `yaml:"averagingCount"`

	ID              string `yaml:"id"`
	StartedAt       string `yaml:"startedAt"`
	EndedAt         string `yaml:"endedAt"`
	Outcome         string `yaml:"outcome"`
	Error           string `yaml:"error,omitempty"`
	Samples         int    `yaml:"samples"`
	RecoveredFrames int    `yaml:"recoveredFrames"`
}

// ParamsOf fills a Params from run
func ParamsOf(run Run, samples, recovered int) Params {
	return Params{
		Start:              run.Start,
		Stop:               run.Stop,
		StepSize:           run.StepSize,
		TimeConstant:       run.TimeConstant.String(),
		Sensitivity:        run.Sensitivity.String(),
		PostMoveWaitFactor: run.PostMoveWait,
		AveragingCount:     run.Averaging,
		ID:                 run.ID,
		StartedAt:          run.StartedAt.Format(time.RFC3339),
		EndedAt:            run.EndedAt.Format(time.RFC3339),
		Outcome:            run.Outcome,
		Error:              run.Error,
		Samples:            samples,
		RecoveredFrames:    recovered,
	}
}

func writeParamsFile(path string, run Run, samples, recovered int) error {
	b, err := yaml.Marshal(ParamsOf(run, samples, recovered))
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
