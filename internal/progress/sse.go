package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var errNoFlusher = errors.New("response writer does not support flushing")

// SSEWriter writes events as server-sent event frames.
type SSEWriter struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers and flushes them. ctx is
// normally the request context; writes fail once it is done.
func NewSSEWriter(ctx context.Context, w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{ctx: ctx, w: w, flusher: flusher}, nil
}

func (s *SSEWriter) WriteEvent(e Event) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
