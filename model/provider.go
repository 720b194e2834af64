package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/kgassist/core"
)

// Prompt is everything a provider sees for one decision of a turn.
type Prompt struct {
	// Context is the rendered memory context of the user.
	Context string
	// History holds completed turns of the session, oldest first.
	History []*core.Turn
	// UserMessage is the message of the current turn.
	UserMessage string
	// Role of the user (e.g. "teacher", "principal"), may be empty.
	Role string
	// Tools the provider may propose.
	Tools []ToolDefinition
	// Rounds executed so far in this turn.
	Rounds []*core.Round
	// ForceFinal is set when the round budget is exhausted.
	ForceFinal bool
}

// ClassifyResult is a provider's intent verdict.
type ClassifyResult struct {
	Classification core.Classification
	// FirstCall is the tool call for round 0 when tools are required.
	FirstCall *core.ProposedCall
	// Reply is a direct answer the provider produced while classifying.
	Reply string
}

// Provider is the AI capability consumed by the orchestrator.
type Provider interface {
	// Classify decides between a simple reply and tool use.
	Classify(ctx context.Context, p Prompt) (ClassifyResult, error)
	// ProposeTools returns the calls of the next round; none means done.
	ProposeTools(ctx context.Context, p Prompt) ([]core.ProposedCall, error)
	// GenerateAnswer produces the user-facing answer.
	GenerateAnswer(ctx context.Context, p Prompt) (string, error)
	// Info describes the provider.
	Info() Info
}

// BuildMessages converts a prompt into chat messages. With rounds set, every
// executed round contributes an assistant tool-call message followed by one
// tool message per invocation.
func BuildMessages(p Prompt, rounds bool) []Message {
	msgs := make([]Message, 0, 2*len(p.History)+1)
	for _, t := range p.History {
		msgs = append(msgs, Message{Role: RoleUser, Content: t.UserMessage})
		if t.FinalAnswer != "" {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: t.FinalAnswer})
		}
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: p.UserMessage})
	if !rounds {
		return msgs
	}
	for _, r := range p.Rounds {
		if len(r.Invocations) == 0 {
			continue
		}
		call := Message{Role: RoleAssistant, ToolCalls: make([]ToolCall, len(r.Invocations))}
		for i, inv := range r.Invocations {
			args, _ := json.Marshal(inv.Params)
			call.ToolCalls[i] = ToolCall{ID: inv.ID, Name: inv.ToolName, Arguments: string(args)}
		}
		msgs = append(msgs, call)
		for _, inv := range r.Invocations {
			msgs = append(msgs, Message{Role: RoleTool, ToolCallID: inv.ID, Content: ResultText(inv)})
		}
	}
	return msgs
}

// ResultText renders an invocation outcome for a model. Failures carry the
// status and error so the model can retry or acknowledge them.
func ResultText(inv *core.ToolInvocation) string {
	if inv.Status == core.InvocationSuccess {
		if s, ok := inv.Result.(string); ok {
			return s
		}
		b, err := json.Marshal(inv.Result)
		if err != nil {
			return fmt.Sprintf("%v", inv.Result)
		}
		return string(b)
	}
	b, _ := json.Marshal(map[string]string{"status": string(inv.Status), "error": inv.ErrorMessage()})
	return string(b)
}

// ParseArguments decodes tool call arguments. Empty input yields an empty map.
func ParseArguments(raw string) (map[string]any, error) {
	params := map[string]any{}
	if raw == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return map[string]any{}, fmt.Errorf("decode tool arguments: %w", err)
	}
	return params, nil
}
