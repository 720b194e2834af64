// Package tool implements the tool catalogue of the assistant: versioned tool
// definitions with JSON-schema parameters, the handler contract backend
// capabilities implement, and a registry that is fixed at startup.
package tool

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Handler executes a tool. Implementations must honour ctx cancellation and
// must be safe for concurrent use; the executor may run several invocations of
// the same tool in parallel.
//
// Errors returned by a handler become the invocation's failure. Wrap transient
// failures with Retryable to let the executor retry them.
type Handler interface {
	Handle(ctx context.Context, params map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Definition describes a tool exposed to providers and executed by the executor.
type Definition struct {
	// Name is the unique identifier (snake_case recommended).
	Name string
	// Description is shown to the provider to decide when to call the tool.
	Description string
	// Version of the tool contract.
	Version string
	// ParamSchema is a minimal JSON-schema object describing parameters.
	ParamSchema map[string]any
	// CapabilityTags group tools (e.g. "students", "reports", "navigation").
	CapabilityTags []string
	// Timeout overrides the executor default when positive.
	Timeout time.Duration
	// Handler runs the tool.
	Handler Handler
}

// Validate checks that the definition can be registered.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("tool name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", d.Name)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("tool %s: negative timeout", d.Name)
	}
	if d.ParamSchema != nil {
		if t, ok := d.ParamSchema["type"]; ok && t != "object" {
			return fmt.Errorf("tool %s: parameter schema must be an object, got %v", d.Name, t)
		}
	}
	return nil
}

// HasTag reports whether the definition carries tag.
func (d Definition) HasTag(tag string) bool {
	for _, t := range d.CapabilityTags {
		if t == tag {
			return true
		}
	}
	return false
}

// retryableError marks a handler failure as transient.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so the executor may retry the invocation
// within its deadline.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
