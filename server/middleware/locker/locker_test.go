package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.com/thzlab/lightscan/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestLockedWhileBusy(t *testing.T) {
	var busy atomic.Bool
	l := New(busy.Load)
	rt := table{
		{Method: http.MethodPost, Path: "/lockin/sensitivity"}: ok,
		{Method: http.MethodPost, Path: "/scan/stop"}:          ok,
	}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	generichttp.RouteTable(rt).Bind(r)

	code := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/lockin/sensitivity", ""))
	busy.Store(true)
	assert.Equal(t, http.StatusLocked, code(http.MethodPost, "/lockin/sensitivity", ""))
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/scan/stop", ""))
	busy.Store(false)

	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/lock", `{"bool": true}`))
	assert.True(t, l.Locked())
	assert.Equal(t, http.StatusLocked, code(http.MethodPost, "/lockin/sensitivity", ""))
	assert.Equal(t, http.StatusOK, code(http.MethodGet, "/lock", ""))
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/lock", `{"bool": false}`))
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/lockin/sensitivity", ""))
}

func TestNilBusy(t *testing.T) {
	l := New(nil)
	assert.False(t, l.Locked())
	l.Lock()
	assert.True(t, l.Locked())
	l.Unlock()
	assert.False(t, l.Locked())
}

func TestProtectedPrefixes(t *testing.T) {
	l := New(nil)
	assert.False(t, l.protected(http.MethodPost, "/lock"))
	assert.True(t, l.protected(http.MethodPost, "/lockin/sensitivity"))
	assert.False(t, l.protected(http.MethodPost, "/scan/stop"))
	assert.False(t, l.protected(http.MethodGet, "/scan/state"))
	assert.True(t, l.protected(http.MethodPost, "/scan/start"))
	assert.False(t, l.protected(http.MethodGet, "/scan/save"))
	assert.True(t, l.protected(http.MethodPost, "/scan/save"))
	assert.False(t, l.protected(http.MethodGet, "/events/scan"))
	assert.True(t, l.protected(http.MethodPost, "/stage/pos"))
}

func TestManualLockBlocksScanStart(t *testing.T) {
	l := New(nil)
	rt := table{
		{Method: http.MethodPost, Path: "/scan/start"}: ok,
		{Method: http.MethodPost, Path: "/scan/stop"}:  ok,
		{Method: http.MethodGet, Path: "/scan/state"}:  ok,
	}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	generichttp.RouteTable(rt).Bind(r)
	code := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/lock", `{"bool": true}`))
	assert.Equal(t, http.StatusLocked, code(http.MethodPost, "/scan/start", ""))
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/scan/stop", ""))
	assert.Equal(t, http.StatusOK, code(http.MethodGet, "/scan/state", ""))
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/lock", `{"bool": false}`))
	assert.Equal(t, http.StatusOK, code(http.MethodPost, "/scan/start", ""))
}
