package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/kgassist/classifier"
	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/executor"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/memory"
	"github.com/hupe1980/kgassist/model"
	"github.com/hupe1980/kgassist/session"
	"github.com/hupe1980/kgassist/tool"
)

// Sink receives the events of a turn in order. stream.Emitter implements it.
// An error from Emit means the client is gone and the turn is cancelled.
type Sink interface {
	Emit(turnID string, p core.Payload) error
}

// ProviderSelector resolves the provider used for a turn. model.Selector
// implements it.
type ProviderSelector interface {
	Select(snap core.ProviderSnapshot, preferred string, c core.Capability) (model.Provider, error)
}

// StaticSelector always returns the same provider.
type StaticSelector struct {
	Provider model.Provider
}

// Select implements ProviderSelector.
func (s StaticSelector) Select(core.ProviderSnapshot, string, core.Capability) (model.Provider, error) {
	return s.Provider, nil
}

// TurnRequest is one user message to process.
type TurnRequest struct {
	// TurnID is generated when empty.
	TurnID    string
	SessionID string
	OwnerID   string
	Message   string

	// EnableTools false answers directly without tool rounds.
	EnableTools bool

	// Role is the caller's role, forwarded to the provider prompt.
	Role string

	// Routing is the resolved routing context of the request origin.
	Routing core.RoutingContext

	// Providers is the provider snapshot the turn runs against. A snapshot
	// swapped in while the turn runs does not affect it.
	Providers core.ProviderSnapshot
}

// Validate checks the required request fields.
func (r TurnRequest) Validate() error {
	switch {
	case r.SessionID == "":
		return &core.ValidationError{Field: "sessionId", Message: "is required"}
	case r.OwnerID == "":
		return &core.ValidationError{Field: "ownerId", Message: "is required"}
	case r.Message == "":
		return &core.ValidationError{Field: "message", Message: "is required"}
	}
	return nil
}

// Orchestrator drives turns through the classification and tool-round state
// machine and streams their progress to a Sink.
//
// Turns of one session are serialised. Turns of different sessions run
// concurrently, bounded by Config.MaxConcurrentTurns. Every turn that starts
// ends with exactly one terminal event (complete, error_terminal or
// cancelled) unless the sink is already gone.
type Orchestrator struct {
	opts     Options
	registry *tool.Registry
	selector ProviderSelector
	toolDefs []model.ToolDefinition

	locks *sessionLocks

	mu     sync.Mutex
	active map[string]context.CancelFunc
	slots  chan struct{}
}

// New creates an orchestrator over registry and selector. The registry is
// frozen; tools registered afterwards are rejected.
func New(registry *tool.Registry, selector ProviderSelector, optFns ...func(o *Options)) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if selector == nil {
		return nil, errors.New("orchestrator: provider selector is required")
	}

	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capability == "" {
		opts.Capability = core.CapabilityText
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Executor == nil {
		opts.Executor = executor.New(registry, func(o *executor.Options) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New(func(o *classifier.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewContextBuilder(memory.NewInMemoryStore())
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}

	registry.Freeze()

	o := &Orchestrator{
		opts:     opts,
		registry: registry,
		selector: selector,
		toolDefs: toolDefinitions(registry),
		locks:    newSessionLocks(),
		active:   make(map[string]context.CancelFunc),
	}
	if opts.MaxConcurrentTurns > 0 {
		o.slots = make(chan struct{}, opts.MaxConcurrentTurns)
	}
	return o, nil
}

// Sessions returns the session store in use.
func (o *Orchestrator) Sessions() session.Store { return o.opts.Sessions }

// Registry returns the frozen tool registry.
func (o *Orchestrator) Registry() *tool.Registry { return o.registry }

// RunTurn processes req and streams its events to sink. It returns once the
// turn is terminal.
//
// The returned turn is the persisted record. The error is nil for a completed
// turn, wraps core.ErrCancelled for a cancelled turn, and carries the cause of
// a failed turn. Request validation, session ownership and lock acquisition
// errors are returned before any event is emitted.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, sink Sink) (*core.Turn, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TurnID == "" {
		req.TurnID = core.NewID()
	}

	release, err := o.locks.acquire(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", req.SessionID, cancelledErr(err))
	}
	defer release()

	if o.slots != nil {
		select {
		case o.slots <- struct{}{}:
			defer func() { <-o.slots }()
		case <-ctx.Done():
			return nil, cancelledErr(ctx.Err())
		}
	}

	sess, err := o.opts.Sessions.GetOrCreate(ctx, req.SessionID, req.OwnerID, req.Routing)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(req.TurnID, cancel)
	defer o.untrack(req.TurnID)

	r := &run{
		o:       o,
		ctx:     turnCtx,
		cancel:  cancel,
		req:     req,
		sink:    sink,
		session: sess,
		turn:    core.NewTurn(req.TurnID, req.SessionID, req.Message),
		machine: newMachine(),
		limiter: core.NewRoundLimiter(o.opts.MaxRounds),
		logger:  o.opts.Logger,
	}
	return r.execute()
}

// Cancel aborts the running turn turnID. It reports whether such a turn was
// running.
func (o *Orchestrator) Cancel(turnID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[turnID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveTurns returns the number of running turns.
func (o *Orchestrator) ActiveTurns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) track(turnID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.active[turnID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(turnID string) {
	o.mu.Lock()
	delete(o.active, turnID)
	o.mu.Unlock()
}

func toolDefinitions(registry *tool.Registry) []model.ToolDefinition {
	defs := registry.List()
	out := make([]model.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, model.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.ParamSchema})
	}
	return out
}

func cancelledErr(err error) error {
	if errors.Is(err, core.ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrCancelled, err)
}
