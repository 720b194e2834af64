package orchestrator

import (
	"fmt"

	"github.com/hupe1980/kgassist/classifier"
	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/executor"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/memory"
	"github.com/hupe1980/kgassist/metrics"
	"github.com/hupe1980/kgassist/session"
)

// MaxRoundsLimit is the largest accepted Config.MaxRounds.
const MaxRoundsLimit = 50

// Config defines the tuning parameters of a turn.
//
// The round limit and the memory budget bound the work a single user message
// can cause:
//   - MaxRounds caps tool rounds; once reached, the provider is asked for a
//     best-effort answer from the results gathered so far
//   - MemoryBudget caps the rendered memory context handed to the provider
//
// Example:
//
//	cfg := orchestrator.DefaultConfig
//	cfg.MaxRounds = 3
type Config struct {
	// MaxRounds is the maximum number of tool rounds per turn, 1..50.
	MaxRounds int

	// MemoryBudget is the length budget of the memory context as measured by
	// the memory counter. Must be positive.
	MemoryBudget int

	// HistoryTurns is how many completed turns of the session form the
	// conversational window. Zero sends no history.
	HistoryTurns int

	// MaxConcurrentTurns limits turns running at once across all sessions.
	// Zero means unlimited.
	MaxConcurrentTurns int

	// Capability is the provider capability required for conversation.
	Capability core.Capability
}

// DefaultConfig provides conservative defaults.
//
// Configuration values:
//   - MaxRounds: 5
//   - MemoryBudget: 4000
//   - HistoryTurns: 6
//   - MaxConcurrentTurns: 64
//   - Capability: text
var DefaultConfig = Config{
	MaxRounds:          core.DefaultMaxRounds,
	MemoryBudget:       4000,
	HistoryTurns:       6,
	MaxConcurrentTurns: 64,
	Capability:         core.CapabilityText,
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.MaxRounds < 1 || c.MaxRounds > MaxRoundsLimit {
		return fmt.Errorf("max rounds must be in 1..%d, got %d", MaxRoundsLimit, c.MaxRounds)
	}
	if c.MemoryBudget <= 0 {
		return fmt.Errorf("memory budget must be positive, got %d", c.MemoryBudget)
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("history turns must not be negative, got %d", c.HistoryTurns)
	}
	if c.MaxConcurrentTurns < 0 {
		return fmt.Errorf("max concurrent turns must not be negative, got %d", c.MaxConcurrentTurns)
	}
	return nil
}

// Options configures an Orchestrator using the functional options pattern.
//
// Every collaborator has a default suitable for development and tests:
//   - Executor: executor.New over the orchestrator's registry
//   - Classifier: classifier.New with DefaultTimeout
//   - Memory: a ContextBuilder over an empty memory.InMemoryStore
//   - Sessions: session.NewInMemoryStore
//   - Logger: logging.NoOpLogger
//
// Example:
//
//	orch, err := orchestrator.New(registry, selector, func(o *orchestrator.Options) {
//	    o.Sessions = store
//	    o.Config.MaxRounds = 3
//	})
type Options struct {
	Config

	Executor   *executor.Executor
	Classifier *classifier.Classifier
	Memory     *memory.ContextBuilder
	Sessions   session.Store
	Logger     logging.Logger

	// Metrics is optional; a nil recorder records nothing.
	Metrics *metrics.Recorder
}
