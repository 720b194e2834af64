package session

import (
	"context"
	"errors"

	"github.com/hupe1980/kgassist/core"
)

var (
	// ErrNotFound is returned by Get for unknown sessions.
	ErrNotFound = errors.New("session not found")
	// ErrOwnerMismatch is returned when a session id is reused by another owner.
	ErrOwnerMismatch = errors.New("session belongs to another owner")
)

// Store persists sessions and turns. Implementations return copies; callers
// never share memory with the store.
type Store interface {
	// GetOrCreate loads the session or creates it for ownerID.
	GetOrCreate(ctx context.Context, sessionID, ownerID string, routing core.RoutingContext) (*core.Session, error)
	// SaveTurn inserts or replaces turn within the session.
	SaveTurn(ctx context.Context, sessionID string, turn *core.Turn) error
	// Get loads a session or returns ErrNotFound.
	Get(ctx context.Context, sessionID string) (*core.Session, error)
}
