package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures surfaced by the orchestration core.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindExecution  ErrorKind = "execution"
	KindTimeout    ErrorKind = "timeout"
	KindProvider   ErrorKind = "provider"
	KindRoundLimit ErrorKind = "round_limit"
	KindCancelled  ErrorKind = "cancelled"
	KindInternal   ErrorKind = "internal"
)

var (
	// ErrRoundLimitExceeded signals that a turn reached its configured maximum
	// number of tool rounds. It forces a final answer and is never fatal.
	ErrRoundLimitExceeded = errors.New("round limit exceeded")
	// ErrCancelled marks work aborted by the caller or a dropped transport.
	ErrCancelled = errors.New("cancelled")

	ErrDuplicateTool       = errors.New("tool already registered")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrRegistryFrozen      = errors.New("tool registry is frozen")
	ErrDuplicateInvocation = errors.New("invocation already executed in this turn")
)

// ValidationError reports parameters that do not satisfy a tool's schema.
type ValidationError struct {
	Tool    string `json:"tool,omitempty"`
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("tool %s: validation error for field '%s': %s", e.Tool, e.Field, e.Message)
}

// Kind implements Kinded.
func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// ExecutionError wraps a failure raised by a tool handler.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: execution failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *ExecutionError) Kind() ErrorKind { return KindExecution }

// TimeoutError reports a tool invocation that exceeded its deadline.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s: timed out after %s", e.Tool, e.Timeout)
}

// Kind implements Kinded.
func (e *TimeoutError) Kind() ErrorKind { return KindTimeout }

// Unwrap lets errors.Is(err, context.DeadlineExceeded) match.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ProviderError wraps a failure of an AI provider. Retryable failures may be
// retried against the same or a fallback provider; fatal ones end the turn.
type ProviderError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	class := "fatal"
	if e.Retryable {
		class = "retryable"
	}
	return fmt.Sprintf("provider %s (%s): %v", e.Provider, class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *ProviderError) Kind() ErrorKind { return KindProvider }

// Kinded is implemented by errors that carry their own ErrorKind.
type Kinded interface {
	Kind() ErrorKind
}

// KindOf classifies err. Unknown errors are reported as internal faults.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRoundLimitExceeded):
		return KindRoundLimit
	case errors.Is(err, ErrDuplicateInvocation), errors.Is(err, ErrUnknownTool):
		return KindExecution
	}
	return KindInternal
}

// IsRetryableProvider reports whether err is a provider failure worth retrying.
func IsRetryableProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}
