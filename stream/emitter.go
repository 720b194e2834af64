// Package stream delivers a turn's events to a client transport.
//
// The Emitter numbers events per turn starting at 1, rejects events after a
// turn's terminal event and stops for good on the first transport failure,
// invoking the upstream cancel function exactly once. Events are never
// buffered for later delivery.
package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
)

var (
	// ErrStopped is returned once the transport failed or the emitter closed.
	ErrStopped = errors.New("stream stopped")
	// ErrTerminated is returned for events after a turn's terminal event.
	ErrTerminated = errors.New("turn stream already terminated")
)

// Transport sends encoded events to one client.
type Transport interface {
	Send(ev core.StreamEvent) error
	Close() error
}

// Options configure an Emitter.
type Options struct {
	// OnDisconnect runs once when the transport fails, typically the cancel
	// function of the turn's context.
	OnDisconnect func()
	Logger       logging.Logger
}

// Emitter serialises events of one connection.
type Emitter struct {
	mu         sync.Mutex
	transport  Transport
	seq        map[string]uint64
	terminated map[string]bool
	stopped    bool
	once       sync.Once
	opts       Options
}

// NewEmitter creates an emitter writing to t.
func NewEmitter(t Transport, optFns ...func(o *Options)) *Emitter {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Emitter{
		transport:  t,
		seq:        map[string]uint64{},
		terminated: map[string]bool{},
		opts:       opts,
	}
}

// Emit sends p as the next event of turnID. A sequence number is consumed
// only by a delivered event, so delivered sequences are gapless.
func (e *Emitter) Emit(turnID string, p core.Payload) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.terminated[turnID] {
		e.mu.Unlock()
		return fmt.Errorf("turn %s: %w", turnID, ErrTerminated)
	}
	next := e.seq[turnID] + 1
	ev := core.NewStreamEvent(turnID, next, p)
	if err := e.transport.Send(ev); err != nil {
		e.stopped = true
		e.mu.Unlock()
		e.opts.Logger.Info("stream.transport.disconnected", "turn_id", turnID, "sequence", next, "type", string(ev.Type), "error", err)
		e.disconnect()
		return fmt.Errorf("%w: %v", ErrStopped, err)
	}
	e.seq[turnID] = next
	if ev.Terminal() {
		e.terminated[turnID] = true
	}
	e.mu.Unlock()
	return nil
}

// Sequence returns the last delivered sequence of turnID.
func (e *Emitter) Sequence(turnID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq[turnID]
}

// Stopped reports whether the emitter stopped.
func (e *Emitter) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Close stops the emitter and closes the transport. No disconnect callback
// runs for an orderly close.
func (e *Emitter) Close() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.once.Do(func() {}) // consume the callback
	return e.transport.Close()
}

// Disconnect stops the emitter from outside, e.g. when the client closed the
// connection while no event was being written.
func (e *Emitter) Disconnect() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.disconnect()
}

func (e *Emitter) disconnect() {
	e.once.Do(func() {
		if e.opts.OnDisconnect != nil {
			e.opts.OnDisconnect()
		}
	})
}
