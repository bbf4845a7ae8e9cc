package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thzlab/lightscan/daq"
	httpscan "github.com/thzlab/lightscan/generichttp/scan"
	"github.com/thzlab/lightscan/scan"
	"github.com/thzlab/lightscan/srs"
	"github.com/thzlab/lightscan/thorlabs"
)

func demoConfig(t *testing.T) Config {
	c := defaultConfig()
	c.Stage.Velocity = 0
	c.Stage.HomeOnStart = false
	c.Save.Dir = t.TempDir()
	c.Save.Archive = filepath.Join(c.Save.Dir, "runs.db")
	c.Scan = ScanConfig{Start: 0, Stop: 3, StepSize: 1, Averaging: 1, PostMoveWait: 1,
		TimeConstant: "1 ms", Sensitivity: "500 mV", PollInterval: scan.DefaultPollInterval}
	return c
}

func TestBuildDemoRig(t *testing.T) {
	c := demoConfig(t)
	r, err := buildRig(c)
	require.NoError(t, err)
	_, ok := r.amp.(*srs.Mock)
	assert.True(t, ok)
	_, ok = r.stage.(*thorlabs.Mock)
	assert.True(t, ok)
	assert.Nil(t, r.dig)

	c.Source = sourceDigitizer
	r, err = buildRig(c)
	require.NoError(t, err)
	_, ok = r.dig.(*daq.Mock)
	assert.True(t, ok)
	assert.Nil(t, r.amp)
}

func TestDemoDatasetFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	require.NoError(t, os.WriteFile(path, []byte("pos,v\n0,1\n1,2\n"), 0o644))
	d, err := demoDataset(DemoConfig{Dataset: path})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
}

func TestDemoScanIsArchived(t *testing.T) {
	c := demoConfig(t)
	r, err := buildRig(c)
	require.NoError(t, err)
	require.NoError(t, r.open())
	require.NoError(t, r.setup(context.Background(), c))

	ctl := r.controller(c)
	p, err := c.Scan.Parameters()
	require.NoError(t, err)
	sess, err := ctl.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, scan.OutcomeCompleted, sess.Outcome)
	assert.True(t, sess.Saved)

	stored, err := r.archive.Samples(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
	require.NoError(t, r.close())

	var out bytes.Buffer
	report(&out, sess)
	assert.Contains(t, out.String(), "4 samples")
	assert.Contains(t, out.String(), "saved "+sess.File)
	_, err = os.Stat(sess.File)
	assert.NoError(t, err)
}

func TestMuxRoutes(t *testing.T) {
	c := demoConfig(t)
	r, err := buildRig(c)
	require.NoError(t, err)
	require.NoError(t, r.open())
	defer r.close()
	feed := httpscan.NewFeed()
	defer feed.Close()
	ctl := r.controller(c, feed)
	mux := buildMux(c, r, ctl, feed)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/scan/state", "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lockin/time-constant", `{"str": "10 ms"}`).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/stage/pos", `{"f64": 2}`).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/lock", "").Code)

	w := do(http.MethodGet, "/list-of-routes", "")
	var routes []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &routes))
	assert.Contains(t, routes, "POST /scan/start")
	assert.Contains(t, routes, "GET /events/scan")
	assert.Contains(t, routes, "POST /lockin/raw")
	assert.Contains(t, routes, "POST /stage/home")

	// a scan that settles for a long while holds the instruments
	w = do(http.MethodPost, "/scan/start", `{"timeConstant": 6, "postMoveWait": 1000}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, http.StatusLocked, do(http.MethodPost, "/lockin/time-constant", `{"int": 2}`).Code)
	assert.Equal(t, http.StatusLocked, do(http.MethodPost, "/stage/pos", `{"f64": 1}`).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/scan/session", "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/scan/stop", "").Code)
	ctl.Wait()
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lockin/time-constant", `{"int": 2}`).Code)
}

func TestPrintTables(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printTables(&out, 2))
	s := out.String()
	assert.Contains(t, s, "T 1,6")
	assert.Contains(t, s, "G 24")
	assert.Contains(t, s, "200 ms")
}
