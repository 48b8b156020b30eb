// Package progress streams the lifecycle of one acquisition to a client:
// a starting event, increasing download percentages, then exactly one
// terminal event.
package progress

import (
	"log/slog"
	"math"
	"sync"
)

type Status string

const (
	StatusStarting    Status = "starting"
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
)

// Event is one frame on the wire. State mirrors Status for older clients.
type Event struct {
	Status      Status  `json:"status"`
	State       Status  `json:"state"`
	Progress    float64 `json:"progress"`
	Message     string  `json:"message,omitempty"`
	Success     *bool   `json:"success,omitempty"`
	Error       string  `json:"error,omitempty"`
	VideoID     string  `json:"videoId,omitempty"`
	Duration    int     `json:"duration,omitempty"`
	PlayableURL string  `json:"playableUrl,omitempty"`
}

// Result describes a video that finished acquisition.
type Result struct {
	VideoID     string
	Duration    int
	PlayableURL string
}

// Emitter receives progress for one acquisition.
type Emitter interface {
	OnProgress(percent float64, message string)
	OnError(message string)
	OnComplete(r Result)
}

// EventWriter delivers events to a client.
type EventWriter interface {
	WriteEvent(e Event) error
}

// Channel applies the ordering rules to events before writing them: progress
// only increases, exactly one terminal event is sent, and nothing is written
// after the client goes away.
type Channel struct {
	w      EventWriter
	logger *slog.Logger

	mu           sync.Mutex
	last         float64
	terminal     bool
	disconnected bool
}

func NewChannel(w EventWriter, logger *slog.Logger) *Channel {
	return &Channel{w: w, logger: logger}
}

// Open sends the starting event. It must be called before any work begins.
func (c *Channel) Open(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write(Event{Status: StatusStarting, Progress: 0, Message: message})
}

func (c *Channel) OnProgress(percent float64, message string) {
	if math.IsNaN(percent) {
		return
	}
	percent = math.Min(100, math.Max(0, percent))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal || percent <= c.last {
		return
	}
	c.last = percent
	c.write(Event{Status: StatusDownloading, Progress: percent, Message: message})
}

func (c *Channel) OnError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return
	}
	c.terminal = true
	ok := false
	c.write(Event{Status: StatusError, Progress: c.last, Success: &ok, Error: message})
}

func (c *Channel) OnComplete(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return
	}
	c.terminal = true
	ok := true
	c.write(Event{
		Status:      StatusReady,
		Progress:    100,
		Success:     &ok,
		VideoID:     r.VideoID,
		Duration:    r.Duration,
		PlayableURL: r.PlayableURL,
	})
}

// Done reports whether a terminal event has been emitted.
func (c *Channel) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Disconnected reports whether a write has failed.
func (c *Channel) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// write must be called with mu held.
func (c *Channel) write(e Event) {
	if c.disconnected {
		return
	}
	e.State = e.Status
	if err := c.w.WriteEvent(e); err != nil {
		c.disconnected = true
		if c.logger != nil {
			c.logger.Info("progress client disconnected", "status", e.Status, "error", err)
		}
	}
}

// Recorder is an EventWriter that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) WriteEvent(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Replay feeds recorded events into another emitter, so a late subscriber
// sees the same sequence.
func (r *Recorder) Replay(to Emitter) {
	for _, e := range r.Events() {
		switch e.Status {
		case StatusDownloading:
			to.OnProgress(e.Progress, e.Message)
		case StatusError:
			to.OnError(e.Error)
		case StatusReady:
			to.OnComplete(Result{VideoID: e.VideoID, Duration: e.Duration, PlayableURL: e.PlayableURL})
		}
	}
}

// Discard is an Emitter that drops everything.
type Discard struct{}

func (Discard) OnProgress(float64, string) {}
func (Discard) OnError(string)             {}
func (Discard) OnComplete(Result)          {}
