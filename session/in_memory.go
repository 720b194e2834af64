package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/kgassist/core"
)

// InMemoryStore is a volatile Store keeping sessions in a process local map.
// It is safe for concurrent access and best suited for tests or the local
// tenant. Sessions and turns are cloned on the way in and out.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// GetOrCreate implements Store.
func (s *InMemoryStore) GetOrCreate(ctx context.Context, sessionID, ownerID string, routing core.RoutingContext) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = core.NewSession(sessionID, ownerID, routing)
		s.sessions[sessionID] = sess
	} else if sess.OwnerID != ownerID {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrOwnerMismatch)
	}
	return sess.Clone(), nil
}

// SaveTurn implements Store.
func (s *InMemoryStore) SaveTurn(ctx context.Context, sessionID string, turn *core.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("save turn %s: session %s: %w", turn.ID, sessionID, ErrNotFound)
	}
	sess.PutTurn(turn.Clone())
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess.Clone(), nil
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
