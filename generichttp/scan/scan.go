// Package scan exposes the scan controller over HTTP: start, stop, estimate
// and the state of the current session, plus an SSE stream of its events.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/thzlab/lightscan/generichttp"
	"github.com/thzlab/lightscan/recorder"
	"github.com/thzlab/lightscan/scan"
)

// HTTPScan holds a controller and the routes bound to it
type HTTPScan struct {
	Ctl *scan.Controller

	// Defaults supplies the parameters a request body is decoded over
	Defaults func() scan.Parameters

	// Feed, if not nil, is served on EventsPath
	Feed *Feed

	RouteTable generichttp.RouteTable
}

// StatePayload is the reply of GET /scan/state
type StatePayload struct {
	State scan.State      `json:"state"`
	Busy  bool            `json:"busy"`
	Save  recorder.Policy `json:"save"`
}

// EstimatePayload is the reply of POST /scan/estimate and /scan/start
type EstimatePayload struct {
	Steps   int     `json:"steps"`
	Seconds float64 `json:"f64"`
	Human   string  `json:"str"`
}

// NewHTTPScan binds the scan routes for c
func NewHTTPScan(c *scan.Controller, defaults func() scan.Parameters, feed *Feed) HTTPScan {
	if defaults == nil {
		defaults = func() scan.Parameters { return scan.Parameters{} }
	}
	h := HTTPScan{Ctl: c, Defaults: defaults, Feed: feed}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/scan/state"}:     h.State,
		{Method: http.MethodGet, Path: "/scan/session"}:   h.Session,
		{Method: http.MethodPost, Path: "/scan/start"}:    h.Start,
		{Method: http.MethodPost, Path: "/scan/stop"}:     h.Stop,
		{Method: http.MethodPost, Path: "/scan/estimate"}: h.Estimate,
		{Method: http.MethodGet, Path: "/scan/save"}:      h.GetSave,
		{Method: http.MethodPost, Path: "/scan/save"}:     h.SetSave,
	}
	if feed != nil {
		h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: EventsPath}] = feed.ServeHTTP
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPScan) RT() generichttp.RouteTable {
	return h.RouteTable
}

// params decodes the request body over the defaults.  An empty body yields
// the defaults unchanged
func (h HTTPScan) params(r *http.Request) (scan.Parameters, error) {
	p := h.Defaults()
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(&p)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return p, err
}

func (h HTTPScan) estimate(p scan.Parameters) EstimatePayload {
	d := h.Ctl.Estimate(p)
	return EstimatePayload{Steps: p.StepCount(), Seconds: d.Seconds(), Human: scan.FormatDuration(d)}
}

// State reports the controller phase
func (h HTTPScan) State(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, StatePayload{
		State: h.Ctl.State(),
		Busy:  h.Ctl.Busy(),
		Save:  h.Ctl.SavePolicy(),
	})
}

// Session reports the current or last session with its samples
func (h HTTPScan) Session(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Ctl.Session()
	if !ok {
		http.Error(w, "no scan has been started", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, s)
}

// Start launches a scan.  The scan outlives the request; use /scan/stop to
// end it early
func (h HTTPScan) Start(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Ctl.Start(context.Background(), p); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(h.estimate(p))
}

// Stop asks the running scan to finish
func (h HTTPScan) Stop(w http.ResponseWriter, r *http.Request) {
	h.Ctl.Stop()
	w.WriteHeader(http.StatusOK)
}

// Estimate predicts the duration of a scan without starting it
func (h HTTPScan) Estimate(w http.ResponseWriter, r *http.Request) {
	p, err := h.params(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = p.Validate(); err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, h.estimate(p))
}

// GetSave reports the save policy
func (h HTTPScan) GetSave(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Ctl.SavePolicy())
}

// SetSave replaces the save policy.  Fields absent from the body keep their
// current values
func (h HTTPScan) SetSave(w http.ResponseWriter, r *http.Request) {
	p := h.Ctl.SavePolicy()
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Ctl.SetSavePolicy(p)
	generichttp.RespondJSON(w, p)
}
