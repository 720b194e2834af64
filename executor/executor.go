// Package executor runs tool invocations. It validates parameters, enforces
// per-invocation timeouts, guarantees at-most-once execution per invocation id
// within a turn, retries transient failures and runs the invocations of a
// round through a bounded worker pool.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/metrics"
	"github.com/hupe1980/kgassist/tool"
)

// Config holds executor limits.
type Config struct {
	// PoolSize bounds concurrently running invocations per round.
	PoolSize int
	// DefaultTimeout applies to tools without their own timeout.
	DefaultTimeout time.Duration
	Retry          RetryPolicy
}

// DefaultConfig is used when no options override it.
var DefaultConfig = Config{
	PoolSize:       4,
	DefaultTimeout: 30 * time.Second,
	Retry:          DefaultRetryPolicy,
}

// Options configure an Executor.
type Options struct {
	Config
	Ledger  Ledger
	Logger  logging.Logger
	Metrics *metrics.Recorder
}

// Hooks observe invocation transitions. OnStart fires when an invocation
// moves to running; OnComplete fires once per invocation when it becomes
// terminal, including invocations rejected before running. Hooks are called
// from worker goroutines and must be safe for concurrent use.
type Hooks struct {
	OnStart    func(inv *core.ToolInvocation)
	OnComplete func(inv *core.ToolInvocation)
}

func (h Hooks) start(inv *core.ToolInvocation) {
	if h.OnStart != nil {
		h.OnStart(inv)
	}
}

func (h Hooks) complete(inv *core.ToolInvocation) {
	if h.OnComplete != nil {
		h.OnComplete(inv)
	}
}

// Executor executes tool invocations against a frozen registry.
type Executor struct {
	registry *tool.Registry
	opts     Options
}

// New creates an executor for registry.
func New(registry *tool.Registry, optFns ...func(o *Options)) *Executor {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = DefaultConfig.PoolSize
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultConfig.DefaultTimeout
	}
	if opts.Ledger == nil {
		opts.Ledger = NewMemoryLedger()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Executor{registry: registry, opts: opts}
}

// Ledger returns the idempotency ledger in use.
func (e *Executor) Ledger() Ledger { return e.opts.Ledger }

// Execute runs a single invocation to a terminal status and returns it.
func (e *Executor) Execute(ctx context.Context, turnID string, inv *core.ToolInvocation) *core.ToolInvocation {
	e.run(ctx, turnID, inv, Hooks{})
	return inv
}

// ExecuteRound runs invs concurrently with at most PoolSize in flight. It
// returns once every invocation is terminal. Invocations that could not start
// before ctx was cancelled end as cancelled.
func (e *Executor) ExecuteRound(ctx context.Context, turnID string, invs []*core.ToolInvocation, hooks Hooks) {
	n := len(invs)
	if n == 0 {
		return
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		e.run(ctx, turnID, invs[0], hooks)
		return
	}

	maxPar := e.opts.PoolSize
	if maxPar > n {
		maxPar = n
	}

	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup

	batchStart := time.Now()
	for _, inv := range invs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			e.cancel(inv, ctx.Err(), hooks)
			continue
		}
		wg.Add(1)
		go func(inv *core.ToolInvocation) {
			defer wg.Done()
			defer func() { <-sem }()
			e.run(ctx, turnID, inv, hooks)
		}(inv)
	}

	wg.Wait()

	e.opts.Logger.Debug(
		"executor.round.complete",
		"turn_id", turnID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
}

func (e *Executor) run(ctx context.Context, turnID string, inv *core.ToolInvocation, hooks Hooks) {
	if inv.Status.Terminal() {
		return
	}
	if err := ctx.Err(); err != nil {
		e.cancel(inv, err, hooks)
		return
	}

	if inv.ArgumentsError != "" {
		e.opts.Logger.Warn("executor.invocation.bad_arguments", "turn_id", turnID, "tool", inv.ToolName, "error", inv.ArgumentsError)
		e.reject(inv, &core.ValidationError{Tool: inv.ToolName, Field: "arguments", Message: inv.ArgumentsError}, hooks)
		return
	}

	claimed, err := e.opts.Ledger.Claim(ctx, turnID, inv.ID)
	if err != nil {
		e.reject(inv, &core.ExecutionError{Tool: inv.ToolName, Err: fmt.Errorf("claim invocation: %w", err)}, hooks)
		return
	}
	if !claimed {
		e.opts.Logger.Warn("executor.invocation.duplicate", "turn_id", turnID, "invocation_id", inv.ID, "tool", inv.ToolName)
		e.reject(inv, fmt.Errorf("%s: %w", inv.ID, core.ErrDuplicateInvocation), hooks)
		return
	}

	def, ok := e.registry.Lookup(inv.ToolName)
	if !ok {
		e.reject(inv, &core.ExecutionError{Tool: inv.ToolName, Err: core.ErrUnknownTool}, hooks)
		return
	}
	if err := e.registry.Validate(inv.ToolName, inv.Params); err != nil {
		e.opts.Logger.Warn("executor.invocation.invalid", "turn_id", turnID, "tool", inv.ToolName, "error", err.Error())
		e.reject(inv, err, hooks)
		return
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inv.Status = core.InvocationRunning
	inv.StartedAt = time.Now()
	e.opts.Logger.Debug("executor.invocation.start", "turn_id", turnID, "invocation_id", inv.ID, "tool", inv.ToolName)
	hooks.start(inv)

	result, err := e.callWithRetry(runCtx, def, inv)
	inv.FinishedAt = time.Now()

	switch {
	case err == nil:
		inv.Status = core.InvocationSuccess
		inv.Result = result
	case ctx.Err() != nil:
		inv.Status = core.InvocationCancelled
		inv.Err = fmt.Errorf("%w: %v", core.ErrCancelled, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		inv.Status = core.InvocationTimeout
		inv.Err = &core.TimeoutError{Tool: inv.ToolName, Timeout: timeout}
	default:
		inv.Status = core.InvocationFailed
		inv.Err = asExecutionError(inv.ToolName, err)
	}

	e.opts.Logger.Info(
		"executor.invocation.done",
		"turn_id", turnID,
		"invocation_id", inv.ID,
		"tool", inv.ToolName,
		"status", string(inv.Status),
		"attempts", inv.Attempts,
		"duration_ms", inv.Duration().Milliseconds(),
	)
	e.opts.Metrics.InvocationFinished(inv.ToolName, string(inv.Status), inv.Duration())
	hooks.complete(inv)
}

func (e *Executor) callWithRetry(ctx context.Context, def tool.Definition, inv *core.ToolInvocation) (any, error) {
	policy := e.opts.Retry
	for attempt := 1; ; attempt++ {
		inv.Attempts = attempt
		result, err := e.callOnce(ctx, def, inv)
		if err == nil {
			return result, nil
		}
		if !tool.IsRetryable(err) || attempt >= policy.attempts() || ctx.Err() != nil {
			return nil, err
		}
		wait := policy.Backoff(attempt)
		e.opts.Logger.Debug("executor.invocation.retry", "invocation_id", inv.ID, "tool", inv.ToolName, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

type callResult struct {
	value any
	err   error
}

// callOnce runs the handler in its own goroutine so a handler that ignores
// ctx cannot hold the invocation past its deadline.
func (e *Executor) callOnce(ctx context.Context, def tool.Definition, inv *core.ToolInvocation) (any, error) {
	done := make(chan callResult, 1)
	go func() {
		var res callResult
		defer func() {
			if r := recover(); r != nil {
				e.opts.Logger.Error("executor.invocation.panic", "tool", def.Name, "invocation_id", inv.ID, "recover", r)
				res = callResult{err: panicError(r)}
			}
			done <- res
		}()
		res.value, res.err = def.Handler.Handle(ctx, inv.Params)
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reject finishes an invocation that never reached its handler.
func (e *Executor) reject(inv *core.ToolInvocation, err error, hooks Hooks) {
	now := time.Now()
	inv.Status = core.InvocationFailed
	inv.Err = err
	inv.StartedAt = now
	inv.FinishedAt = now
	e.opts.Metrics.InvocationFinished(inv.ToolName, string(inv.Status), 0)
	hooks.complete(inv)
}

func (e *Executor) cancel(inv *core.ToolInvocation, cause error, hooks Hooks) {
	if inv.Status.Terminal() {
		return
	}
	now := time.Now()
	inv.Status = core.InvocationCancelled
	inv.Err = fmt.Errorf("%w: %v", core.ErrCancelled, cause)
	inv.StartedAt = now
	inv.FinishedAt = now
	hooks.complete(inv)
}

func asExecutionError(toolName string, err error) error {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &core.ExecutionError{Tool: toolName, Err: err}
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
