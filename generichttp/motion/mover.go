package motion

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/thzlab/lightscan/generichttp"
	"github.com/thzlab/lightscan/motion"
)

// HTTPMove adds the position routes to the route table
func HTTPMove(h HTTPStage, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stage/pos"}] = SetPos(h)
	if p, ok := h.Stage.(motion.Positioner); ok {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/stage/pos"}] = GetPos(p)
	}
}

// GetPos returns an HTTP handler func that reports the last commanded position
func GetPos(p motion.Positioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hp := generichttp.HumanPayload{T: types.Float64, Float: p.Position()}
		hp.EncodeAndRespond(w, r)
	}
}

// SetPos returns an HTTP handler func that moves the stage to {'f64': pos}
// and waits for the move to finish
func SetPos(h HTTPStage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = h.exclusive(func() error {
			return motion.MoveAndWait(r.Context(), h.Stage, f.F64)
		})
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
