package testutil

import (
	"errors"
	"sync"

	"github.com/hupe1980/kgassist/core"
)

// ErrDisconnected is returned by a RecordingTransport once it "disconnects".
var ErrDisconnected = errors.New("test transport disconnected")

// RecordingTransport records delivered events. It implements
// stream.Transport.
type RecordingTransport struct {
	// FailAfter disconnects once that many events were delivered; 0 never.
	FailAfter int
	// FailOn disconnects on the first event it returns true for. The event is
	// not delivered.
	FailOn func(ev core.StreamEvent) bool

	mu     sync.Mutex
	events []core.StreamEvent
	failed bool
	closed bool
}

// Send records ev or reports a disconnect.
func (t *RecordingTransport) Send(ev core.StreamEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed || t.closed {
		return ErrDisconnected
	}
	if (t.FailAfter > 0 && len(t.events) >= t.FailAfter) || (t.FailOn != nil && t.FailOn(ev)) {
		t.failed = true
		return ErrDisconnected
	}
	t.events = append(t.events, ev)
	return nil
}

// Close marks the transport closed.
func (t *RecordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Events returns a copy of the delivered events.
func (t *RecordingTransport) Events() []core.StreamEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.StreamEvent(nil), t.events...)
}

// Types returns the delivered event types in order.
func (t *RecordingTransport) Types() []core.EventType {
	return Types(t.Events())
}

// Disconnected reports whether a simulated disconnect happened.
func (t *RecordingTransport) Disconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Closed reports whether Close was called.
func (t *RecordingTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
