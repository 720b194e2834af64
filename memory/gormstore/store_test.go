package gormstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/database"
	"github.com/hupe1980/kgassist/memory"
	"github.com/hupe1980/kgassist/migrate"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	r, err := migrate.New(db, Migrations())
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStore_QueryOrdersAndLimits(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx,
		core.MemoryRecord{ID: "a", OwnerID: "li", Dimension: core.DimensionRecentEvent, Content: "old", Salience: 0.5, Timestamp: now.Add(-time.Hour)},
		core.MemoryRecord{ID: "b", OwnerID: "li", Dimension: core.DimensionRecentEvent, Content: "new", Salience: 0.5, Timestamp: now},
		core.MemoryRecord{ID: "c", OwnerID: "li", Dimension: core.DimensionRecentEvent, Content: "important", Salience: 0.9, Timestamp: now.Add(-48 * time.Hour)},
		core.MemoryRecord{ID: "d", OwnerID: "li", Dimension: core.DimensionKnowledge, Content: "other dim", Salience: 1, Timestamp: now},
		core.MemoryRecord{ID: "e", OwnerID: "wang", Dimension: core.DimensionRecentEvent, Content: "other owner", Salience: 1, Timestamp: now},
	))

	got, err := s.Query(ctx, "li", core.DimensionRecentEvent, 0)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	got, err = s.Query(ctx, "li", core.DimensionRecentEvent, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "important", got[0].Content)
}

func TestStore_PutUpserts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	rec := core.MemoryRecord{ID: "id", OwnerID: "li", Dimension: core.DimensionCoreIdentity, Content: "v1", Salience: 1}
	require.NoError(t, s.Put(ctx, rec))
	rec.Content = "v2"
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Query(ctx, "li", core.DimensionCoreIdentity, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Content)

	assert.Error(t, s.Put(ctx, core.MemoryRecord{ID: "x", Dimension: "gossip"}))
}

func TestStore_FeedsContextBuilder(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put(context.Background(),
		core.MemoryRecord{ID: "i", OwnerID: "li", Dimension: core.DimensionCoreIdentity, Content: "Ms. Li", Salience: 1},
		core.MemoryRecord{ID: "p", OwnerID: "li", Dimension: core.DimensionProcedural, Content: "Sign-out requires guardian ID", Salience: 0.3},
	))

	out, err := memory.NewContextBuilder(s).Build(context.Background(), "li", 4000)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "## Core identity\n- Ms. Li\n"))
	assert.Contains(t, out, "## Procedures\n- Sign-out requires guardian ID\n")
}
