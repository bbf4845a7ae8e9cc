package motion

import (
	"net/http"

	"github.com/thzlab/lightscan/generichttp"
)

// HTTPHome adds the homing route to the route table
func HTTPHome(h HTTPStage, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stage/home"}] = Home(h)
}

// Home returns an HTTP handler func that homes the stage and blocks until it
// reports done
func Home(h HTTPStage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.exclusive(func() error {
			return h.Stage.Home(r.Context())
		})
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
