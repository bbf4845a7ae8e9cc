// Package ascii contains some injectable HTTP interfaces to ASCII hardare
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/thzlab/lightscan/generichttp"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator.  If Guard is not nil
// every command is run through it
type RawWrapper struct {
	Comm  RawCommunicator
	Guard generichttp.Exclusiver
}

// HTTPRaw provides access to the raw function over http
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var resp string
	send := func() error {
		var err error
		resp, err = rw.Comm.Raw(str.Str)
		return err
	}
	if rw.Guard != nil {
		err = rw.Guard.Exclusive(send)
	} else {
		err = send()
	}
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a POST route at path into the route table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, path string, raw RawCommunicator, guard generichttp.Exclusiver) {
	wrap := RawWrapper{Comm: raw, Guard: guard}
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = wrap.HTTPRaw
}
