// Package lockin exposes a lock-in amplifier over HTTP.  Every route that
// talks to the hardware takes the instrument lease first, so manual commands
// never interleave with a running scan.
package lockin

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/thzlab/lightscan/generichttp"
	"github.com/thzlab/lightscan/generichttp/ascii"
	"github.com/thzlab/lightscan/lockin"
)

// Setting is the wire form of a table entry.  On input either Int (the table
// index) or Str (the label) may be given; Str wins if both are
type Setting struct {
	Int int     `json:"int"`
	Str string  `json:"str,omitempty"`
	F64 float64 `json:"f64,omitempty"`
}

// StatusPayload is the decoded status byte
type StatusPayload struct {
	Byte       int      `json:"int"`
	OK         bool     `json:"bool"`
	Text       string   `json:"str"`
	Conditions []string `json:"conditions"`
}

// HTTPLockin holds an amplifier and the routes bound to it
type HTTPLockin struct {
	Amp   lockin.Amplifier
	Guard generichttp.Exclusiver

	RouteTable generichttp.RouteTable
}

// NewHTTPLockin binds the base amplifier routes and any of the optional
// capabilities a implements
func NewHTTPLockin(a lockin.Amplifier, guard generichttp.Exclusiver) HTTPLockin {
	h := HTTPLockin{Amp: a, Guard: guard}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/lockin/time-constant"}:  h.GetTimeConstant,
		{Method: http.MethodPost, Path: "/lockin/time-constant"}: h.SetTimeConstant,
		{Method: http.MethodGet, Path: "/lockin/sensitivity"}:    h.GetSensitivity,
		{Method: http.MethodPost, Path: "/lockin/sensitivity"}:   h.SetSensitivity,
		{Method: http.MethodGet, Path: "/lockin/measure"}:        h.Measure,
		{Method: http.MethodGet, Path: "/lockin/tables"}:         Tables,
	}
	h.RouteTable = rt
	if sc, ok := a.(lockin.StatusChecker); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lockin/status"}] = h.status(sc)
	}
	if ss, ok := a.(lockin.StandardSetupper); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lockin/standard-setup"}] = h.call(ss.StandardSetup)
	}
	if p, ok := a.(lockin.Pinger); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lockin/ping"}] = h.call(p.Ping)
	}
	if q, ok := a.(lockin.Quiescer); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lockin/quiesce"}] = h.call(q.Quiesce)
	}
	if raw, ok := a.(lockin.RawCommunicator); ok {
		ascii.InjectRawComm(h, "/lockin/raw", raw, guard)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPLockin) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPLockin) exclusive(fn func() error) error {
	if h.Guard == nil {
		return fn()
	}
	return h.Guard.Exclusive(fn)
}

func (h HTTPLockin) call(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.exclusive(fn); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func decodeSetting(r *http.Request) (Setting, error) {
	var s Setting
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(&s)
	return s, err
}

// GetTimeConstant reports the time constant in use as {int, str, f64}
func (h HTTPLockin) GetTimeConstant(w http.ResponseWriter, r *http.Request) {
	var tc lockin.TimeConstant
	err := h.exclusive(func() error {
		var err error
		tc, err = h.Amp.GetTimeConstant()
		return err
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, Setting{Int: int(tc), Str: tc.String(), F64: tc.Seconds()})
}

// SetTimeConstant selects a time constant by index or label
func (h HTTPLockin) SetTimeConstant(w http.ResponseWriter, r *http.Request) {
	s, err := decodeSetting(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tc := lockin.TimeConstant(s.Int)
	if s.Str != "" {
		tc, err = lockin.ParseTimeConstant(s.Str)
	} else {
		err = tc.Check()
	}
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	h.call(func() error { return h.Amp.SetTimeConstant(tc) })(w, r)
}

// GetSensitivity reports the sensitivity in use as {int, str, f64}
func (h HTTPLockin) GetSensitivity(w http.ResponseWriter, r *http.Request) {
	var sens lockin.Sensitivity
	err := h.exclusive(func() error {
		var err error
		sens, err = h.Amp.GetSensitivity()
		return err
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, Setting{Int: int(sens), Str: sens.String(), F64: sens.Volts()})
}

// SetSensitivity selects a sensitivity by index or label
func (h HTTPLockin) SetSensitivity(w http.ResponseWriter, r *http.Request) {
	s, err := decodeSetting(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sens := lockin.Sensitivity(s.Int)
	if s.Str != "" {
		sens, err = lockin.ParseSensitivity(s.Str)
	} else {
		err = sens.Check()
	}
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	h.call(func() error { return h.Amp.SetSensitivity(sens) })(w, r)
}

// Measure takes a single reading
func (h HTTPLockin) Measure(w http.ResponseWriter, r *http.Request) {
	var rd lockin.Reading
	err := h.exclusive(func() error {
		var err error
		rd, err = h.Amp.Measure()
		return err
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if r.URL.Query().Get("channel") == "x" {
		hp := generichttp.HumanPayload{T: types.Float64, Float: rd.X}
		hp.EncodeAndRespond(w, r)
		return
	}
	generichttp.RespondJSON(w, rd)
}

func (h HTTPLockin) status(sc lockin.StatusChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var st lockin.Status
		err := h.exclusive(func() error {
			var err error
			st, err = sc.CheckStatusByte()
			return err
		})
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		conds := st.Conditions()
		if conds == nil {
			conds = []string{}
		}
		generichttp.RespondJSON(w, StatusPayload{
			Byte:       int(st),
			OK:         st.OK(),
			Text:       st.String(),
			Conditions: conds,
		})
	}
}

// Tables lists every selectable time constant and sensitivity
func Tables(w http.ResponseWriter, r *http.Request) {
	out := struct {
		TimeConstants []Setting `json:"timeConstants"`
		Sensitivities []Setting `json:"sensitivities"`
	}{}
	for _, tc := range lockin.TimeConstants() {
		out.TimeConstants = append(out.TimeConstants, Setting{Int: int(tc), Str: tc.String(), F64: tc.Seconds()})
	}
	for _, s := range lockin.Sensitivities() {
		out.Sensitivities = append(out.Sensitivities, Setting{Int: int(s), Str: s.String(), F64: s.Volts()})
	}
	generichttp.RespondJSON(w, out)
}
