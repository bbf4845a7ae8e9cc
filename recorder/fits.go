package recorder

import (
	"io"
	"os"
	"time"

	"github.com/astrogo/fitsio"
)

func runCards(run Run) []fitsio.Card {
	return []fitsio.Card{
		{Name: "SCANID", Value: run.ID, Comment: "session id"},
		{Name: "DATE-OBS", Value: run.StartedAt.UTC().Format(time.RFC3339), Comment: "scan start"},
		{Name: "DATE-END", Value: run.EndedAt.UTC().Format(time.RFC3339), Comment: "scan end"},
		{Name: "OUTCOME", Value: run.Outcome},
		{Name: "START", Value: run.Start, Comment: "first stage position"},
		{Name: "STOP", Value: run.Stop, Comment: "last stage position"},
		{Name: "STEP", Value: run.StepSize, Comment: "stage step"},
		{Name: "NAVG", Value: run.Averaging, Comment: "readings per sample"},
		{Name: "PMWAIT", Value: run.PostMoveWait, Comment: "post move wait, time constants"},
		{Name: "TCONST", Value: run.TimeConstant.Seconds(), Comment: "lock-in time constant, s"},
		{Name: "SENS", Value: run.Sensitivity.Volts(), Comment: "lock-in full scale, V"},
	}
}

// WriteFITS streams samples as a 3 x n float64 image, one row per sample of
// (position, value, quadrature), with the run metadata in the header
func WriteFITS(w io.Writer, run Run, samples []Sample) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{3, len(samples)})
	defer im.Close()
	err = im.Header().Append(runCards(run)...)
	if err != nil {
		return err
	}
	buf := make([]float64, 0, 3*len(samples))
	for _, s := range samples {
		buf = append(buf, s.Position, s.Value, s.Quadrature)
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

func writeFITSFile(path string, run Run, samples []Sample) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WriteFITS(f, run, samples)
}
