package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/executor"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/memory"
	"github.com/hupe1980/kgassist/model"
)

const persistTimeout = 5 * time.Second

// run is the state of one turn. It lives for the duration of RunTurn.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	cancel  context.CancelFunc
	req     TurnRequest
	sink    Sink
	session *core.Session
	turn    *core.Turn
	machine *machine
	limiter *core.RoundLimiter
	logger  logging.Logger

	provider model.Provider
	prompt   model.Prompt
	forced   bool

	// emitMu serialises sink access; tool hooks fire from worker goroutines.
	emitMu     sync.Mutex
	sinkFailed bool
}

func (r *run) execute() (*core.Turn, error) {
	start := time.Now()
	r.o.opts.Metrics.TurnStarted()
	r.logger.Info("orchestrator.turn.start",
		"turn_id", r.turn.ID,
		"session_id", r.req.SessionID,
		"owner_id", r.req.OwnerID,
		"tenant_id", r.req.Routing.TenantID,
		"enable_tools", r.req.EnableTools,
	)

	err := r.persist(r.ctx)
	if err == nil {
		err = r.safeDrive()
	}
	termErr := r.finish(err)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), persistTimeout)
	defer cancel()
	if perr := r.persist(pctx); perr != nil {
		r.logger.Error("orchestrator.turn.persist_failed", "turn_id", r.turn.ID, "error", perr)
	}
	if lerr := r.o.opts.Executor.Ledger().Release(pctx, r.turn.ID); lerr != nil {
		r.logger.Warn("orchestrator.ledger.release_failed", "turn_id", r.turn.ID, "error", lerr)
	}

	r.o.opts.Metrics.TurnFinished(string(r.turn.Status), len(r.turn.Rounds), time.Since(start))
	r.logger.Info("orchestrator.turn.done",
		"turn_id", r.turn.ID,
		"status", string(r.turn.Status),
		"classification", string(r.turn.Classification),
		"rounds", len(r.turn.Rounds),
		"forced", r.forced,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return r.turn, termErr
}

func (r *run) persist(ctx context.Context) error {
	if err := r.o.opts.Sessions.SaveTurn(ctx, r.req.SessionID, r.turn); err != nil {
		return fmt.Errorf("save turn %s: %w", r.turn.ID, err)
	}
	return nil
}

// safeDrive runs the machine and converts a panic into an internal error.
func (r *run) safeDrive() (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("orchestrator.turn.panic", "turn_id", r.turn.ID, "state", string(r.machine.state), "panic", fmt.Sprint(p))
			err = fmt.Errorf("internal error in state %s: %v", r.machine.state, p)
		}
	}()
	return r.drive()
}

func (r *run) drive() error {
	if err := r.to(StateThinking); err != nil {
		return err
	}
	if err := r.emit(core.ThinkingStart{}); err != nil {
		return err
	}
	if err := r.prepare(); err != nil {
		return err
	}

	d, err := r.o.opts.Classifier.Classify(r.ctx, r.provider, r.prompt)
	if err != nil {
		return cancelledErr(err)
	}
	r.turn.Classification = d.Classification
	r.o.opts.Metrics.Classified(string(d.Classification), decisionPath(d.FastPath, d.Degraded))
	r.logger.Debug("orchestrator.turn.classified",
		"turn_id", r.turn.ID,
		"classification", string(d.Classification),
		"fast_path", d.FastPath,
		"degraded", d.Degraded,
	)

	if !r.req.EnableTools || d.Classification != core.ClassificationToolRequired {
		return r.simpleAnswer(d.Reply)
	}
	return r.toolRounds(d.FirstCall)
}

// prepare assembles the provider prompt: memory context, conversational
// window and tool catalogue.
func (r *run) prepare() error {
	memCtx, err := r.o.opts.Memory.Build(r.ctx, r.req.OwnerID, r.o.opts.MemoryBudget)
	switch {
	case errors.Is(err, memory.ErrBudgetTooSmall):
		r.logger.Warn("orchestrator.memory.over_budget", "turn_id", r.turn.ID, "owner_id", r.req.OwnerID, "budget", r.o.opts.MemoryBudget)
	case err != nil:
		if r.ctx.Err() != nil {
			return cancelledErr(r.ctx.Err())
		}
		r.logger.Warn("orchestrator.memory.failed", "turn_id", r.turn.ID, "owner_id", r.req.OwnerID, "error", err)
		memCtx = ""
	}

	provider, err := r.o.selector.Select(r.req.Providers, r.req.Routing.DefaultProvider.Name, r.o.opts.Capability)
	if err != nil {
		r.logger.Warn("orchestrator.provider.unavailable", "turn_id", r.turn.ID, "error", err)
		provider = unavailable{err: err}
	}
	r.provider = provider

	var history []*core.Turn
	if r.o.opts.HistoryTurns > 0 {
		history = r.session.RecentTurns(r.o.opts.HistoryTurns)
	}
	var tools []model.ToolDefinition
	if r.req.EnableTools {
		tools = r.o.toolDefs
	}
	r.prompt = model.Prompt{
		Context:     memCtx,
		History:     history,
		UserMessage: r.req.Message,
		Role:        r.req.Role,
		Tools:       tools,
	}
	return nil
}

func (r *run) simpleAnswer(reply string) error {
	if err := r.to(StateSimpleAnswer); err != nil {
		return err
	}
	text := reply
	if text == "" {
		var err error
		if text, err = r.provider.GenerateAnswer(r.ctx, r.prompt); err != nil {
			return r.providerErr(err)
		}
	}
	if err := r.ctx.Err(); err != nil {
		return cancelledErr(err)
	}
	return r.complete(text)
}

func (r *run) toolRounds(first *core.ProposedCall) error {
	for {
		if err := r.to(StateToolSelection); err != nil {
			return err
		}
		if err := r.ctx.Err(); err != nil {
			return cancelledErr(err)
		}

		var calls []core.ProposedCall
		if first != nil {
			calls = []core.ProposedCall{*first}
			first = nil
		} else {
			r.prompt.Rounds = r.turn.Rounds
			proposed, err := r.provider.ProposeTools(r.ctx, r.prompt)
			if err != nil {
				return r.providerErr(err)
			}
			calls = proposed
		}
		if len(calls) == 0 {
			break
		}

		if _, err := r.limiter.Acquire(); err != nil {
			r.forced = true
			r.logger.Info("orchestrator.round_limit", "turn_id", r.turn.ID, "max_rounds", r.limiter.Max(), "dropped_calls", len(calls))
			break
		}
		if err := r.executeRound(calls); err != nil {
			return err
		}
	}
	return r.finalAnswer()
}

func (r *run) executeRound(calls []core.ProposedCall) error {
	if err := r.to(StateToolExecuting); err != nil {
		return err
	}
	round := r.turn.AddRound()
	invs := make([]*core.ToolInvocation, len(calls))
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = core.NewID()
		}
		invs[i] = core.NewToolInvocation(calls[i].ID, calls[i])
	}
	round.Invocations = invs

	if err := r.emit(core.ToolIntent{Round: round.Index, Calls: calls}); err != nil {
		return err
	}

	hooks := executor.Hooks{
		OnStart: func(inv *core.ToolInvocation) {
			_ = r.emit(core.ToolCallStart{Round: round.Index, InvocationID: inv.ID, ToolName: inv.ToolName})
		},
		OnComplete: func(inv *core.ToolInvocation) {
			result, err := encodable(inv.Result)
			msg := inv.ErrorMessage()
			if err != nil && msg == "" {
				msg = "encode result: " + err.Error()
			}
			_ = r.emit(core.ToolCallComplete{
				Round:        round.Index,
				InvocationID: inv.ID,
				ToolName:     inv.ToolName,
				Status:       inv.Status,
				Result:       result,
				Error:        msg,
				DurationMS:   inv.Duration().Milliseconds(),
			})
		},
	}
	r.o.opts.Executor.ExecuteRound(r.ctx, r.turn.ID, invs, hooks)
	if err := r.ctx.Err(); err != nil {
		return cancelledErr(err)
	}

	succeeded := 0
	for _, inv := range invs {
		if inv.Status == core.InvocationSuccess {
			succeeded++
		}
	}
	if err := r.emit(core.ToolsComplete{Round: round.Index, Succeeded: succeeded, Failed: len(invs) - succeeded}); err != nil {
		return err
	}

	if err := r.to(StateToolAggregation); err != nil {
		return err
	}
	round.AggregatedResult = aggregate(invs)
	r.logger.Debug("orchestrator.round.done", "turn_id", r.turn.ID, "round", round.Index, "succeeded", succeeded, "failed", len(invs)-succeeded)
	return nil
}

func (r *run) finalAnswer() error {
	if err := r.to(StateFinalAnswer); err != nil {
		return err
	}
	r.prompt.Rounds = r.turn.Rounds
	r.prompt.ForceFinal = r.forced
	text, err := r.provider.GenerateAnswer(r.ctx, r.prompt)
	if err != nil {
		return r.providerErr(err)
	}
	// A provider that ignores ctx must not turn a cancelled turn into a
	// completed one.
	if err := r.ctx.Err(); err != nil {
		return cancelledErr(err)
	}
	return r.complete(text)
}

// complete emits the answer and the terminal complete event.
func (r *run) complete(text string) error {
	r.turn.FinalAnswer = text
	if err := r.emit(core.FinalAnswer{Text: text, Forced: r.forced}); err != nil {
		return err
	}
	if err := r.emit(core.Complete{Rounds: len(r.turn.Rounds), Classification: r.turn.Classification}); err != nil {
		return err
	}
	return r.to(StateComplete)
}

// finish moves the turn into its terminal status. For cancelled and failed
// turns it emits the terminal event; a sink that is gone is ignored.
func (r *run) finish(err error) error {
	if err == nil {
		_ = r.turn.Finish(core.TurnComplete, "")
		return nil
	}

	if r.ctx.Err() != nil || core.KindOf(err) == core.KindCancelled {
		reason := "turn cancelled"
		if r.failedSink() {
			reason = "client disconnected"
		}
		_ = r.machine.to(StateCancelled)
		r.emitTerminal(core.Cancelled{Reason: reason})
		_ = r.turn.Finish(core.TurnCancelled, reason)
		r.logger.Info("orchestrator.turn.cancelled", "turn_id", r.turn.ID, "reason", reason)
		return cancelledErr(err)
	}

	kind := core.KindOf(err)
	_ = r.machine.to(StateError)
	r.emitTerminal(core.ErrorTerminal{Kind: kind, Message: err.Error()})
	_ = r.turn.Finish(core.TurnError, err.Error())
	r.logger.Error("orchestrator.turn.failed", "turn_id", r.turn.ID, "kind", string(kind), "error", err)
	return err
}

func (r *run) to(next State) error {
	from := r.machine.state
	if err := r.machine.to(next); err != nil {
		return fmt.Errorf("turn %s: %w", r.turn.ID, err)
	}
	r.logger.Debug("orchestrator.state", "turn_id", r.turn.ID, "from", string(from), "to", string(next))
	return nil
}

// emit delivers p. A sink failure cancels the turn.
func (r *run) emit(p core.Payload) error {
	r.emitMu.Lock()
	if r.sinkFailed {
		r.emitMu.Unlock()
		return fmt.Errorf("%w: sink stopped", core.ErrCancelled)
	}
	err := r.sink.Emit(r.turn.ID, p)
	if err != nil {
		r.sinkFailed = true
	}
	r.emitMu.Unlock()

	if err != nil {
		r.cancel()
		return fmt.Errorf("%w: emit %s: %v", core.ErrCancelled, p.EventType(), err)
	}
	return nil
}

func (r *run) emitTerminal(p core.Payload) {
	if err := r.emit(p); err != nil {
		r.logger.Debug("orchestrator.terminal.undelivered", "turn_id", r.turn.ID, "type", string(p.EventType()), "error", err)
	}
}

func (r *run) failedSink() bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	return r.sinkFailed
}

// providerErr maps a provider failure onto the turn outcome.
func (r *run) providerErr(err error) error {
	if r.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return cancelledErr(err)
	}
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		r.o.opts.Metrics.ProviderFailed(pe.Provider, pe.Retryable)
		return err
	}
	name := r.provider.Info().Provider
	r.o.opts.Metrics.ProviderFailed(name, false)
	return &core.ProviderError{Provider: name, Err: err}
}

type aggregateEntry struct {
	ID     string                `json:"id"`
	Tool   string                `json:"tool"`
	Status core.InvocationStatus `json:"status"`
	Result any                   `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// aggregate folds the outcomes of a round, failures included, into the JSON
// summary stored on the round. An entry whose result cannot be encoded keeps
// its text form and carries the encoding error.
func aggregate(invs []*core.ToolInvocation) string {
	parts := make([]string, len(invs))
	for i, inv := range invs {
		entry := aggregateEntry{ID: inv.ID, Tool: inv.ToolName, Status: inv.Status, Result: inv.Result, Error: inv.ErrorMessage()}
		b, err := json.Marshal(entry)
		if err != nil {
			entry.Result = fmt.Sprintf("%v", inv.Result)
			if entry.Error == "" {
				entry.Error = "encode result: " + err.Error()
			}
			b, _ = json.Marshal(entry)
		}
		parts[i] = string(b)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// encodable returns v, or its text form and the error when v has no JSON
// encoding.
func encodable(v any) (any, error) {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v), err
	}
	return v, nil
}

func decisionPath(fast, degraded bool) string {
	switch {
	case fast:
		return "fast"
	case degraded:
		return "degraded"
	default:
		return "provider"
	}
}

// unavailable stands in when no provider could be selected. Classification
// degrades; answering fails the turn.
type unavailable struct{ err error }

func (u unavailable) Classify(context.Context, model.Prompt) (model.ClassifyResult, error) {
	return model.ClassifyResult{}, u.err
}

func (u unavailable) ProposeTools(context.Context, model.Prompt) ([]core.ProposedCall, error) {
	return nil, u.err
}

func (u unavailable) GenerateAnswer(context.Context, model.Prompt) (string, error) {
	return "", u.err
}

func (u unavailable) Info() model.Info { return model.Info{Name: "unavailable", Provider: "none"} }
