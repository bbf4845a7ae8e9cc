// Package motion provides an HTTP interface to a single axis stage.
//
// The stage's optional capabilities are discovered by interface assertion and
// bound only if present.
package motion

import (
	"net/http"

	"github.com/thzlab/lightscan/generichttp"
	"github.com/thzlab/lightscan/motion"
)

// HTTPStage holds a stage and the routes bound to it
type HTTPStage struct {
	Stage motion.Stage
	Guard generichttp.Exclusiver

	RouteTable generichttp.RouteTable
}

// NewHTTPStage binds home and goto for s, plus position and liveness reads
// when s supports them
func NewHTTPStage(s motion.Stage, guard generichttp.Exclusiver) HTTPStage {
	h := HTTPStage{Stage: s, Guard: guard, RouteTable: generichttp.RouteTable{}}
	HTTPHome(h, h.RouteTable)
	HTTPMove(h, h.RouteTable)
	if a, ok := s.(motion.Aliver); ok {
		h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/stage/alive"}] = generichttp.GetBool(func() (bool, error) {
			return a.Alive(), nil
		})
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPStage) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPStage) exclusive(fn func() error) error {
	if h.Guard == nil {
		return fn()
	}
	return h.Guard.Exclusive(fn)
}
