package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/kgassist/core"
)

// Store is the read interface of long-term memory.
type Store interface {
	// Query returns up to limit records of one owner and dimension, ordered by
	// salience then timestamp, both descending. limit <= 0 means no limit.
	Query(ctx context.Context, ownerID string, dim core.Dimension, limit int) ([]core.MemoryRecord, error)
}

// InMemoryStore is a naive process-local Store suitable for tests, demos and
// the local tenant. Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]core.MemoryRecord // ownerID -> records
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]core.MemoryRecord)}
}

// Put stores records, replacing any with the same owner and id.
func (m *InMemoryStore) Put(records ...core.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if !rec.Dimension.Valid() {
			return fmt.Errorf("record %s: unknown dimension %q", rec.ID, rec.Dimension)
		}
		owned := m.records[rec.OwnerID]
		replaced := false
		for i := range owned {
			if owned[i].ID == rec.ID {
				owned[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			owned = append(owned, rec)
		}
		m.records[rec.OwnerID] = owned
	}
	return nil
}

// Query implements Store.
func (m *InMemoryStore) Query(ctx context.Context, ownerID string, dim core.Dimension, limit int) ([]core.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.MemoryRecord, 0)
	for _, rec := range m.records[ownerID] {
		if rec.Dimension == dim {
			out = append(out, rec)
		}
	}
	SortByRank(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SortByRank orders records by salience then timestamp, both descending.
// Ties fall back to id so results are deterministic.
func SortByRank(records []core.MemoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Salience != b.Salience {
			return a.Salience > b.Salience
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
}
