package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names the kind of a stream event on the wire.
type EventType string

const (
	EventThinkingStart    EventType = "thinking_start"
	EventToolIntent       EventType = "tool_intent"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallComplete EventType = "tool_call_complete"
	EventToolsComplete    EventType = "tools_complete"
	EventFinalAnswer      EventType = "final_answer"
	EventComplete         EventType = "complete"
	EventErrorTerminal    EventType = "error_terminal"
	EventCancelled        EventType = "cancelled"
)

// Terminal reports whether events of this type end a turn's stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventComplete, EventErrorTerminal, EventCancelled:
		return true
	}
	return false
}

// StreamEvent is one ordered, sequence-numbered message of a turn's stream.
// After emission it is treated as immutable.
//
// Sequence starts at 1 per turn and increases by exactly one per delivered
// event. Type is always Payload.EventType().
type StreamEvent struct {
	Sequence  uint64    `json:"sequence"`
	Type      EventType `json:"type"`
	TurnID    string    `json:"turn_id"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStreamEvent builds an event for turnID carrying p.
func NewStreamEvent(turnID string, seq uint64, p Payload) StreamEvent {
	return StreamEvent{
		Sequence:  seq,
		Type:      p.EventType(),
		TurnID:    turnID,
		Payload:   p,
		Timestamp: time.Now().UTC(),
	}
}

// Terminal reports whether e ends its turn's stream.
func (e StreamEvent) Terminal() bool { return e.Type.Terminal() }

// UnmarshalJSON decodes the payload into its concrete type based on the type field.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sequence  uint64          `json:"sequence"`
		Type      EventType       `json:"type"`
		TurnID    string          `json:"turn_id"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := decodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*e = StreamEvent{Sequence: raw.Sequence, Type: raw.Type, TurnID: raw.TurnID, Payload: p, Timestamp: raw.Timestamp}
	return nil
}

func decodePayload(t EventType, data json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case EventThinkingStart:
		p = &ThinkingStart{}
	case EventToolIntent:
		p = &ToolIntent{}
	case EventToolCallStart:
		p = &ToolCallStart{}
	case EventToolCallComplete:
		p = &ToolCallComplete{}
	case EventToolsComplete:
		p = &ToolsComplete{}
	case EventFinalAnswer:
		p = &FinalAnswer{}
	case EventComplete:
		p = &Complete{}
	case EventErrorTerminal:
		p = &ErrorTerminal{}
	case EventCancelled:
		p = &Cancelled{}
	default:
		return nil, &ValidationError{Field: "type", Value: t, Message: "unknown event type"}
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ThinkingStart:
		return *v
	case *ToolIntent:
		return *v
	case *ToolCallStart:
		return *v
	case *ToolCallComplete:
		return *v
	case *ToolsComplete:
		return *v
	case *FinalAnswer:
		return *v
	case *Complete:
		return *v
	case *ErrorTerminal:
		return *v
	case *Cancelled:
		return *v
	}
	return p
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }
