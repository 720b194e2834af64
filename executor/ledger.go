package executor

import (
	"context"
	"sync"
)

// Ledger records which invocation ids already ran in a turn. Claim returns
// true exactly once per (turnID, invocationID) pair.
type Ledger interface {
	Claim(ctx context.Context, turnID, invocationID string) (bool, error)
	// Release forgets a finished turn.
	Release(ctx context.Context, turnID string) error
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	claimed map[string]map[string]struct{}
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claimed: map[string]map[string]struct{}{}}
}

// Claim implements Ledger.
func (l *MemoryLedger) Claim(_ context.Context, turnID, invocationID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids, ok := l.claimed[turnID]
	if !ok {
		ids = map[string]struct{}{}
		l.claimed[turnID] = ids
	}
	if _, seen := ids[invocationID]; seen {
		return false, nil
	}
	ids[invocationID] = struct{}{}
	return true, nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(_ context.Context, turnID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claimed, turnID)
	return nil
}

// Turns returns the number of turns currently tracked.
func (l *MemoryLedger) Turns() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claimed)
}
