package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hupe1980/kgassist/core"
)

// SSETransport writes events as text/event-stream frames.
type SSETransport struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewSSETransport prepares w for streaming. It writes the response headers.
func NewSSETransport(w http.ResponseWriter) (*SSETransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSETransport{w: w, flusher: flusher}, nil
}

// Send implements Transport.
func (t *SSETransport) Send(ev core.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClientGone
	}
	if _, err := fmt.Fprintf(t.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Type, data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Close implements Transport.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
