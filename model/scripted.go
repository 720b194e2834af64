package model

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/kgassist/core"
)

// ScriptedProvider delegates every call to a function field. Nil functions
// fall back to simple chat, no tools and an empty answer. Intended for tests.
type ScriptedProvider struct {
	Name       string
	ClassifyFn func(ctx context.Context, p Prompt) (ClassifyResult, error)
	ProposeFn  func(ctx context.Context, p Prompt) ([]core.ProposedCall, error)
	AnswerFn   func(ctx context.Context, p Prompt) (string, error)

	classifyN atomic.Int32
	proposeN  atomic.Int32
	answerN   atomic.Int32
}

var _ Provider = (*ScriptedProvider)(nil)

// Classify implements Provider.
func (s *ScriptedProvider) Classify(ctx context.Context, p Prompt) (ClassifyResult, error) {
	s.classifyN.Add(1)
	if s.ClassifyFn == nil {
		return ClassifyResult{Classification: core.ClassificationSimpleChat}, nil
	}
	return s.ClassifyFn(ctx, p)
}

// ProposeTools implements Provider.
func (s *ScriptedProvider) ProposeTools(ctx context.Context, p Prompt) ([]core.ProposedCall, error) {
	s.proposeN.Add(1)
	if s.ProposeFn == nil {
		return nil, nil
	}
	return s.ProposeFn(ctx, p)
}

// GenerateAnswer implements Provider.
func (s *ScriptedProvider) GenerateAnswer(ctx context.Context, p Prompt) (string, error) {
	s.answerN.Add(1)
	if s.AnswerFn == nil {
		return "", nil
	}
	return s.AnswerFn(ctx, p)
}

// Info implements Provider.
func (s *ScriptedProvider) Info() Info {
	name := s.Name
	if name == "" {
		name = "scripted"
	}
	return Info{Name: name, Provider: name, SupportsTools: true}
}

// ClassifyCalls returns how often Classify ran.
func (s *ScriptedProvider) ClassifyCalls() int { return int(s.classifyN.Load()) }

// ProposeCalls returns how often ProposeTools ran.
func (s *ScriptedProvider) ProposeCalls() int { return int(s.proposeN.Load()) }

// AnswerCalls returns how often GenerateAnswer ran.
func (s *ScriptedProvider) AnswerCalls() int { return int(s.answerN.Load()) }
