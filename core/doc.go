// Package core provides the foundational domain types shared by every
// component of the assistant orchestration core:
//
//   - Session, Turn and Round (the conversation record)
//   - ToolInvocation and ProposedCall (tool execution state)
//   - StreamEvent and its closed Payload union (the streaming contract)
//   - MemoryRecord and Dimension (long-term memory)
//   - RoutingContext, ProviderConfig and ProviderSnapshot (tenant routing)
//   - the error taxonomy (ValidationError, ExecutionError, TimeoutError,
//     ProviderError, ErrRoundLimitExceeded, ErrCancelled)
//
// The package holds no behaviour beyond invariants of these types; execution,
// persistence and transport live in their own packages.
package core
