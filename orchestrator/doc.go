// Package orchestrator runs conversational turns.
//
// A turn moves through an explicit state machine:
//
//	INIT -> THINKING -> SIMPLE_ANSWER -> COMPLETE
//	INIT -> THINKING -> TOOL_SELECTION -> TOOL_EXECUTING -> TOOL_AGGREGATION
//	        -> TOOL_SELECTION ... -> FINAL_ANSWER -> COMPLETE
//
// CANCELLED and ERROR are reachable from every non-terminal state. THINKING
// assembles the memory context and conversational window and asks the
// classifier how to handle the message. Tool rounds run concurrently through
// the executor and are capped by Config.MaxRounds; at the cap the provider is
// asked for a best-effort answer. Progress is streamed to a Sink as ordered
// events and every started turn ends with exactly one terminal event.
//
// Basic usage:
//
//	orch, err := orchestrator.New(registry, selector, func(o *orchestrator.Options) {
//	    o.Sessions = sessions
//	})
//	turn, err := orch.RunTurn(ctx, orchestrator.TurnRequest{
//	    SessionID: "s1", OwnerID: "teacher-li", Message: "查询所有学生信息", EnableTools: true,
//	}, emitter)
package orchestrator
