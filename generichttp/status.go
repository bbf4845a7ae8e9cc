package generichttp

import (
	"errors"
	"net/http"

	"github.com/thzlab/lightscan/comm"
	"github.com/thzlab/lightscan/lockin"
	"github.com/thzlab/lightscan/motion"
	"github.com/thzlab/lightscan/scan"
)

// StatusOf maps an error from the instrument layer to an HTTP status code
func StatusOf(err error) int {
	var (
		pe scan.ParameterError
		ie lockin.IndexError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, scan.ErrBusy):
		return http.StatusLocked
	case errors.As(err, &pe), errors.As(err, &ie), errors.Is(err, lockin.ErrUnknownLabel):
		return http.StatusBadRequest
	case errors.Is(err, comm.ErrNotConnected), errors.Is(err, comm.ErrConnection):
		return http.StatusServiceUnavailable
	case motion.IsFault(err):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error replies with err's message and the status StatusOf picks for it
func Error(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusOf(err))
}
