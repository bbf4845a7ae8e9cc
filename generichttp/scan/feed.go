package scan

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"

	"github.com/thzlab/lightscan/scan"
)

// EventsPath is the SSE channel scan events are published on
const EventsPath = "/events/scan"

// event names on the wire
const (
	EventEstimate = "estimate"
	EventProgress = "progress"
	EventWarning  = "warning"
	EventFinished = "finished"
)

// Feed is a scan.Observer that republishes events to SSE clients
type Feed struct {
	srv *sse.Server
	seq uint64
}

// NewFeed returns a Feed with its own SSE server
func NewFeed() *Feed {
	return &Feed{srv: sse.NewServer(&sse.Options{
		Logger: log.New(io.Discard, "", 0),
	})}
}

// ServeHTTP subscribes a client to the channel named by the request path
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.srv.ServeHTTP(w, r)
}

// Close disconnects every client
func (f *Feed) Close() {
	f.srv.Shutdown()
}

func (f *Feed) send(event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ERROR: marshal %s event: %+v", event, err)
		return
	}
	id := strconv.FormatUint(atomic.AddUint64(&f.seq, 1), 10)
	f.srv.SendMessage(EventsPath, sse.NewMessage(id, string(data), event))
}

type estimateEvent struct {
	SessionID string  `json:"sessionId"`
	Steps     int     `json:"steps"`
	Seconds   float64 `json:"seconds"`
	Human     string  `json:"human"`
}

type progressEvent struct {
	scan.Progress
	Elapsed   float64 `json:"elapsed"`
	Remaining float64 `json:"remaining"`
	Human     string  `json:"human"`
}

type warningEvent struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

type finishedEvent struct {
	SessionID string       `json:"sessionId"`
	Outcome   scan.Outcome `json:"outcome"`
	Error     string       `json:"error,omitempty"`
	Samples   int          `json:"samples"`
	Recovered int          `json:"recovered"`
	Saved     bool         `json:"saved"`
}

// Estimate publishes the predicted duration of a new session
func (f *Feed) Estimate(s scan.Session, d time.Duration) {
	f.send(EventEstimate, estimateEvent{
		SessionID: s.ID,
		Steps:     s.Params.StepCount(),
		Seconds:   d.Seconds(),
		Human:     scan.FormatDuration(d),
	})
}

// Progress publishes one step
func (f *Feed) Progress(p scan.Progress) {
	f.send(EventProgress, progressEvent{
		Progress:  p,
		Elapsed:   p.Elapsed.Seconds(),
		Remaining: p.Remaining.Seconds(),
		Human:     scan.FormatDuration(p.Remaining),
	})
}

// Warning publishes a non-fatal condition
func (f *Feed) Warning(msg string) {
	f.send(EventWarning, warningEvent{Message: msg, Time: time.Now()})
}

// Finished publishes the final state of a session
func (f *Feed) Finished(s scan.Session) {
	f.send(EventFinished, finishedEvent{
		SessionID: s.ID,
		Outcome:   s.Outcome,
		Error:     s.Error,
		Samples:   len(s.Samples),
		Recovered: s.Recovered(),
		Saved:     s.Saved,
	})
}
