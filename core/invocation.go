package core

import "time"

// InvocationStatus tracks a tool invocation from proposal to outcome.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationRunning   InvocationStatus = "running"
	InvocationSuccess   InvocationStatus = "success"
	InvocationFailed    InvocationStatus = "failed"
	InvocationTimeout   InvocationStatus = "timeout"
	InvocationCancelled InvocationStatus = "cancelled"
)

// Terminal reports whether s is a final status.
func (s InvocationStatus) Terminal() bool {
	return s != InvocationPending && s != InvocationRunning
}

// ProposedCall is a tool call suggested by a provider. ID may be empty, in
// which case the orchestrator assigns one.
type ProposedCall struct {
	ID       string         `json:"id,omitempty"`
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`

	// ArgumentsError is set when the model's arguments could not be decoded.
	// Such a call is rejected without running its handler.
	ArgumentsError string `json:"arguments_error,omitempty"`
}

// ToolInvocation is a single execution of a tool within a round. Only the
// executor mutates it; once terminal it is never changed again.
type ToolInvocation struct {
	ID         string           `json:"id"`
	ToolName   string           `json:"tool_name"`
	Params     map[string]any   `json:"params"`
	Status     InvocationStatus `json:"status"`
	Result     any              `json:"result,omitempty"`
	Err        error            `json:"-"`
	Attempts   int              `json:"attempts"`
	StartedAt  time.Time        `json:"started_at,omitempty"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`

	ArgumentsError string `json:"arguments_error,omitempty"`
}

// NewToolInvocation creates a pending invocation from a proposed call.
func NewToolInvocation(id string, call ProposedCall) *ToolInvocation {
	params := call.Params
	if params == nil {
		params = map[string]any{}
	}
	return &ToolInvocation{ID: id, ToolName: call.ToolName, Params: params, Status: InvocationPending, ArgumentsError: call.ArgumentsError}
}

// ErrorMessage returns the invocation error text or "".
func (inv *ToolInvocation) ErrorMessage() string {
	if inv.Err == nil {
		return ""
	}
	return inv.Err.Error()
}

// Duration returns the wall time between start and finish.
func (inv *ToolInvocation) Duration() time.Duration {
	if inv.StartedAt.IsZero() || inv.FinishedAt.IsZero() {
		return 0
	}
	return inv.FinishedAt.Sub(inv.StartedAt)
}
