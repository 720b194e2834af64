package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/kgassist/core"
)

// MockRule maps message keywords to a tool call.
type MockRule struct {
	Keywords []string
	Tool     string
	Params   map[string]any
}

func (r MockRule) matches(msg string) bool {
	lower := strings.ToLower(msg)
	for _, k := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// MockProvider is a deterministic keyword-driven Provider for local
// development and demos. Every matching rule yields one tool call; each tool
// is proposed at most once per turn.
type MockProvider struct {
	name  string
	rules []MockRule
	reply string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a provider answering with rules.
func NewMockProvider(name string, rules ...MockRule) *MockProvider {
	if name == "" {
		name = "mock"
	}
	return &MockProvider{name: name, rules: rules, reply: "您好，我是幼儿园管理助手，请问有什么可以帮您？"}
}

// Classify implements Provider.
func (m *MockProvider) Classify(ctx context.Context, p Prompt) (ClassifyResult, error) {
	if err := ctx.Err(); err != nil {
		return ClassifyResult{}, err
	}
	calls := m.pending(p)
	if len(calls) == 0 {
		return ClassifyResult{Classification: core.ClassificationSimpleChat, Reply: m.reply}, nil
	}
	return ClassifyResult{Classification: core.ClassificationToolRequired, FirstCall: &calls[0]}, nil
}

// ProposeTools implements Provider.
func (m *MockProvider) ProposeTools(ctx context.Context, p Prompt) ([]core.ProposedCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.pending(p), nil
}

// GenerateAnswer implements Provider.
func (m *MockProvider) GenerateAnswer(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(p.Rounds) == 0 {
		return m.reply, nil
	}
	var sb strings.Builder
	sb.WriteString("查询结果如下：")
	for _, r := range p.Rounds {
		for _, inv := range r.Invocations {
			fmt.Fprintf(&sb, "\n- %s: %s", inv.ToolName, ResultText(inv))
		}
	}
	return sb.String(), nil
}

// Info implements Provider.
func (m *MockProvider) Info() Info {
	return Info{Name: m.name, Provider: "mock", SupportsTools: true}
}

// pending returns calls for matching rules whose tool has not run yet.
func (m *MockProvider) pending(p Prompt) []core.ProposedCall {
	used := map[string]bool{}
	for _, r := range p.Rounds {
		for _, inv := range r.Invocations {
			used[inv.ToolName] = true
		}
	}
	available := map[string]bool{}
	for _, t := range p.Tools {
		available[t.Name] = true
	}
	var out []core.ProposedCall
	for _, rule := range m.rules {
		if used[rule.Tool] || !rule.matches(p.UserMessage) {
			continue
		}
		if len(p.Tools) > 0 && !available[rule.Tool] {
			continue
		}
		params := make(map[string]any, len(rule.Params))
		for k, v := range rule.Params {
			params[k] = v
		}
		out = append(out, core.ProposedCall{ToolName: rule.Tool, Params: params})
		used[rule.Tool] = true
	}
	return out
}
