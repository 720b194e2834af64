package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/kgassist/core"
)

// Types maps events to their types.
func Types(events []core.StreamEvent) []core.EventType {
	out := make([]core.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// AssertWellFormed checks the stream invariants of one turn: sequences run
// 1..n without gaps and, if a terminal event was delivered, it is the only
// one and comes last.
func AssertWellFormed(t *testing.T, events []core.StreamEvent) {
	t.Helper()
	terminal := 0
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Sequence, "event %d (%s) out of sequence", i, ev.Type)
		assert.Equal(t, ev.Payload.EventType(), ev.Type)
		if ev.Terminal() {
			terminal++
			assert.Equal(t, len(events)-1, i, "terminal event %s is not last", ev.Type)
		}
	}
	assert.LessOrEqual(t, terminal, 1, "more than one terminal event")
}

// OfType returns the payloads of events with type typ.
func OfType[P core.Payload](events []core.StreamEvent) []P {
	var out []P
	for _, ev := range events {
		if p, ok := ev.Payload.(P); ok {
			out = append(out, p)
		}
	}
	return out
}
