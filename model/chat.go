package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
)

// ChatOptions configure a ChatProvider.
type ChatOptions struct {
	SystemPrompt        string
	ClassifyInstruction string
	ToolInstruction     string
	FinalInstruction    string
	Logger              logging.Logger
}

// ChatProvider implements Provider on top of any chat Model.
type ChatProvider struct {
	name  string
	model Model
	opts  ChatOptions
}

var _ Provider = (*ChatProvider)(nil)

// NewChatProvider wraps m. name identifies the provider in errors and metrics.
func NewChatProvider(name string, m Model, optFns ...func(o *ChatOptions)) *ChatProvider {
	opts := ChatOptions{
		SystemPrompt:        DefaultSystemPrompt,
		ClassifyInstruction: DefaultClassifyInstruction,
		ToolInstruction:     DefaultToolInstruction,
		FinalInstruction:    DefaultFinalInstruction,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if name == "" {
		name = m.Info().Provider
	}
	return &ChatProvider{name: name, model: m, opts: opts}
}

// Classify implements Provider.
func (c *ChatProvider) Classify(ctx context.Context, p Prompt) (ClassifyResult, error) {
	system, err := renderSystem(c.opts.SystemPrompt, c.opts.ClassifyInstruction, p)
	if err != nil {
		return ClassifyResult{}, c.fatal(err)
	}
	resp, err := Collect(ctx, c.model, Request{System: system, Messages: BuildMessages(p, false), Tools: p.Tools})
	if err != nil {
		return ClassifyResult{}, c.wrap(err)
	}
	if len(resp.ToolCalls) > 0 {
		calls := c.toProposed(resp.ToolCalls)
		return ClassifyResult{Classification: core.ClassificationToolRequired, FirstCall: &calls[0]}, nil
	}
	return parseClassification(resp.Text), nil
}

// ProposeTools implements Provider.
func (c *ChatProvider) ProposeTools(ctx context.Context, p Prompt) ([]core.ProposedCall, error) {
	if len(p.Tools) == 0 {
		return nil, nil
	}
	system, err := renderSystem(c.opts.SystemPrompt, c.opts.ToolInstruction, p)
	if err != nil {
		return nil, c.fatal(err)
	}
	resp, err := Collect(ctx, c.model, Request{System: system, Messages: BuildMessages(p, true), Tools: p.Tools})
	if err != nil {
		return nil, c.wrap(err)
	}
	return c.toProposed(resp.ToolCalls), nil
}

// GenerateAnswer implements Provider.
func (c *ChatProvider) GenerateAnswer(ctx context.Context, p Prompt) (string, error) {
	instruction := ""
	if len(p.Rounds) > 0 || p.ForceFinal {
		instruction = c.opts.FinalInstruction
	}
	system, err := renderSystem(c.opts.SystemPrompt, instruction, p)
	if err != nil {
		return "", c.fatal(err)
	}
	resp, err := Collect(ctx, c.model, Request{System: system, Messages: BuildMessages(p, true)})
	if err != nil {
		return "", c.wrap(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Info implements Provider.
func (c *ChatProvider) Info() Info {
	info := c.model.Info()
	info.Provider = c.name
	return info
}

func (c *ChatProvider) toProposed(calls []ToolCall) []core.ProposedCall {
	out := make([]core.ProposedCall, 0, len(calls))
	for _, tc := range calls {
		call := core.ProposedCall{ID: tc.ID, ToolName: tc.Name}
		params, err := ParseArguments(tc.Arguments)
		if err != nil {
			c.opts.Logger.Warn("model.tool_call.bad_arguments", "provider", c.name, "tool", tc.Name, "error", err)
			call.ArgumentsError = err.Error()
		} else {
			call.Params = params
		}
		out = append(out, call)
	}
	return out
}

// wrap turns model errors into provider errors. Errors without a
// classification are treated as retryable transport failures.
func (c *ChatProvider) wrap(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &core.ProviderError{Provider: c.name, Retryable: true, Err: err}
}

func (c *ChatProvider) fatal(err error) error {
	return &core.ProviderError{Provider: c.name, Retryable: false, Err: err}
}

// parseClassification reads the JSON verdict of a model. Plain text replies
// count as simple chat.
func parseClassification(text string) ClassifyResult {
	text = strings.TrimSpace(text)
	raw := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```")
	var verdict struct {
		Classification string `json:"classification"`
		Reply          string `json:"reply"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &verdict); err == nil {
		c := core.Classification(verdict.Classification)
		if !c.Valid() {
			c = core.ClassificationAmbiguous
		}
		return ClassifyResult{Classification: c, Reply: verdict.Reply}
	}
	return ClassifyResult{Classification: core.ClassificationSimpleChat, Reply: text}
}
