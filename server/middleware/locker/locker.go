// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/thzlab/lightscan/generichttp"
)

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of paths to not protect.  It is also locked
// whenever Busy returns true
type Locker struct {
	mu       sync.Mutex
	isLocked bool

	// Busy, if not nil, holds the lock while it reports true
	Busy func() bool

	// DoNotProtect is a list of paths not to apply the lock to.  An entry
	// ending in a slash covers every path below it, and an entry of the form
	// "METHOD /path" only covers that method
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with the lock and
// event routes, scan stop and the scan routes that only read
func New(busy func() bool) *Locker {
	return &Locker{
		Busy: busy,
		DoNotProtect: []string{
			"/lock",
			"/scan/stop",
			"/scan/state",
			"/scan/session",
			"/scan/estimate",
			"GET /scan/save",
			"/events/",
			"/list-of-routes",
		},
	}
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = true
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = false
}

// Locked returns true if the locker is locked or Busy reports true
func (l *Locker) Locked() bool {
	l.mu.Lock()
	locked := l.isLocked
	l.mu.Unlock()
	return locked || (l.Busy != nil && l.Busy())
}

func (l *Locker) protected(method, path string) bool {
	for _, str := range l.DoNotProtect {
		if m, p, ok := strings.Cut(str, " "); ok {
			if m != method {
				continue
			}
			str = p
		}
		if path == str || (strings.HasSuffix(str, "/") && strings.HasPrefix(path, str)) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.protected(r.Method, r.URL.Path) && l.Locked() {
			http.Error(w, http.StatusText(http.StatusLocked), http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
