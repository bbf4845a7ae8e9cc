// Package server contains misc server utilities.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi"
)

// ShutdownGrace bounds how long Serve waits for requests in flight
const ShutdownGrace = 5 * time.Second

// ReplyWithFile replies to the client request by serving the given file name
// from fldr.  fn may not escape fldr
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	if strings.ContainsAny(fn, `/\`) || fn == ".." {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	filePath, err := filepath.Abs(filepath.Join(fldr, path.Clean("/"+fn)))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("source file missing %s", fn), http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.Error(w, fmt.Sprintf("source file missing %s", fn), http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// Files returns a handler serving {name} out of the directory dir returns.
// dir is called per request so a changed save policy takes effect
func Files(dir func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ReplyWithFile(w, r, chi.URLParam(r, "name"), dir())
	}
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	err := srv.Shutdown(sctx)
	if lerr := <-errCh; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) && err == nil {
		err = lerr
	}
	return err
}
