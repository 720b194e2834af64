package core

// Payload is the body of a stream event. The set of payloads is closed:
// concrete types implement the unexported isPayload marker, and each one
// names the EventType it travels under.
type Payload interface {
	EventType() EventType
	isPayload()
}

// ThinkingStart announces that the assistant began working on a turn.
type ThinkingStart struct{}

// ToolIntent lists the calls chosen for a round before execution starts.
type ToolIntent struct {
	Round int            `json:"round"`
	Calls []ProposedCall `json:"calls"`
}

// ToolCallStart marks an invocation moving to running.
type ToolCallStart struct {
	Round        int    `json:"round"`
	InvocationID string `json:"invocation_id"`
	ToolName     string `json:"tool_name"`
}

// ToolCallComplete carries the terminal outcome of one invocation.
type ToolCallComplete struct {
	Round        int              `json:"round"`
	InvocationID string           `json:"invocation_id"`
	ToolName     string           `json:"tool_name"`
	Status       InvocationStatus `json:"status"`
	Result       any              `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	DurationMS   int64            `json:"duration_ms"`
}

// ToolsComplete closes a round once every invocation is terminal.
type ToolsComplete struct {
	Round     int `json:"round"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// FinalAnswer carries the assistant's answer. Forced is set when the answer
// was produced because the round limit was reached.
type FinalAnswer struct {
	Text   string `json:"text"`
	Forced bool   `json:"forced,omitempty"`
}

// Complete is the terminal event of a successful turn.
type Complete struct {
	Rounds         int            `json:"rounds"`
	Classification Classification `json:"classification"`
}

// ErrorTerminal is the terminal event of a failed turn.
type ErrorTerminal struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Cancelled is the terminal event of a cancelled turn.
type Cancelled struct {
	Reason string `json:"reason,omitempty"`
}

func (ThinkingStart) EventType() EventType    { return EventThinkingStart }
func (ToolIntent) EventType() EventType       { return EventToolIntent }
func (ToolCallStart) EventType() EventType    { return EventToolCallStart }
func (ToolCallComplete) EventType() EventType { return EventToolCallComplete }
func (ToolsComplete) EventType() EventType    { return EventToolsComplete }
func (FinalAnswer) EventType() EventType      { return EventFinalAnswer }
func (Complete) EventType() EventType         { return EventComplete }
func (ErrorTerminal) EventType() EventType    { return EventErrorTerminal }
func (Cancelled) EventType() EventType        { return EventCancelled }

func (ThinkingStart) isPayload()    {}
func (ToolIntent) isPayload()       {}
func (ToolCallStart) isPayload()    {}
func (ToolCallComplete) isPayload() {}
func (ToolsComplete) isPayload()    {}
func (FinalAnswer) isPayload()      {}
func (Complete) isPayload()         {}
func (ErrorTerminal) isPayload()    {}
func (Cancelled) isPayload()        {}
