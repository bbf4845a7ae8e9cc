// Package commtest provides an in-memory stand-in for a serial or TCP link,
// for testing drivers built on comm.RemoteDevice.
package commtest

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by a Conn after Close
var ErrClosed = errors.New("commtest: conn closed")

// Responder computes the bytes a device would send back after receiving msg.
// msg is exactly what was written, terminators included.
type Responder func(msg string) string

// Conn is an io.ReadWriteCloser which answers every Write through a Responder.
// A Read with nothing pending returns io.EOF, like a serial read that timed out.
type Conn struct {
	mu      sync.Mutex
	respond Responder
	pending bytes.Buffer
	writes  []string
	closed  bool

	// WriteErr, if not nil, is returned by every Write
	WriteErr error
}

// New returns a Conn that answers with r.  r may be nil.
func New(r Responder) *Conn {
	return &Conn{respond: r}
}

// Write records msg and queues the response to it
func (c *Conn) Write(msg []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if c.WriteErr != nil {
		return 0, c.WriteErr
	}
	s := string(msg)
	c.writes = append(c.writes, s)
	if c.respond != nil {
		c.pending.WriteString(c.respond(s))
	}
	return len(msg), nil
}

// Read serves queued response bytes
func (c *Conn) Read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if c.pending.Len() == 0 {
		return 0, io.EOF
	}
	return c.pending.Read(buf)
}

// Close marks the conn closed
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports if Close has been called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Inject queues bytes as though the device sent them unprompted
func (c *Conn) Inject(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.WriteString(s)
}

// Writes returns a copy of everything written so far, one entry per Write
func (c *Conn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	copy(out, c.writes)
	return out
}

// Maker returns a function usable as comm.RemoteDevice.Maker which always
// yields this conn
func (c *Conn) Maker() func() (io.ReadWriteCloser, error) {
	return func() (io.ReadWriteCloser, error) {
		return c, nil
	}
}
