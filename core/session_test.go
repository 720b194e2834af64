package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurn_FinishOnlyOnce(t *testing.T) {
	turn := NewTurn("t1", "s1", "你好")
	require.NoError(t, turn.Finish(TurnComplete, ""))
	assert.Equal(t, TurnComplete, turn.Status)
	assert.False(t, turn.CompletedAt.IsZero())

	err := turn.Finish(TurnError, "late failure")
	require.Error(t, err)
	assert.Equal(t, TurnComplete, turn.Status, "terminal turn must not change")
	assert.Empty(t, turn.Error)
}

func TestTurn_FinishRejectsNonTerminal(t *testing.T) {
	turn := NewTurn("t1", "s1", "hello")
	assert.Error(t, turn.Finish(TurnInProgress, ""))
	assert.Equal(t, TurnInProgress, turn.Status)
}

func TestTurn_AddRoundIndexes(t *testing.T) {
	turn := NewTurn("t1", "s1", "查询所有学生信息")
	for i := 0; i < 3; i++ {
		r := turn.AddRound()
		assert.Equal(t, i, r.Index)
	}
	assert.Len(t, turn.Rounds, 3)
}

func TestSession_RecentTurns(t *testing.T) {
	s := NewSession("s1", "owner-1", RoutingContext{TenantID: LocalTenant})
	for i := 0; i < 5; i++ {
		turn := NewTurn(fmt.Sprintf("t%d", i), s.ID, fmt.Sprintf("msg %d", i))
		if i != 3 {
			require.NoError(t, turn.Finish(TurnComplete, ""))
		} else {
			require.NoError(t, turn.Finish(TurnCancelled, ""))
		}
		s.AppendTurn(turn)
	}

	recent := s.RecentTurns(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "t2", recent[0].ID)
	assert.Equal(t, "t4", recent[1].ID)
	assert.Equal(t, 5, s.TurnCount())
}

func TestSession_PutTurnAndClone(t *testing.T) {
	s := NewSession("s1", "owner-1", RoutingContext{TenantID: LocalTenant})
	turn := NewTurn("t1", s.ID, "查询所有学生信息")
	s.PutTurn(turn)

	r := turn.AddRound()
	r.Invocations = append(r.Invocations, NewToolInvocation("inv-1", ProposedCall{ToolName: "students.list"}))
	require.NoError(t, turn.Finish(TurnComplete, ""))
	s.PutTurn(turn)
	assert.Equal(t, 1, s.TurnCount(), "same id replaces")

	cp := s.Clone()
	cp.Turns[0].Rounds[0].Invocations[0].Status = InvocationFailed
	assert.Equal(t, InvocationPending, turn.Rounds[0].Invocations[0].Status, "clone is deep")
	assert.Equal(t, TurnComplete, cp.Turns[0].Status)
}

func TestRoundLimiter(t *testing.T) {
	rl := NewRoundLimiter(2)
	idx, err := rl.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = rl.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = rl.Acquire()
	assert.ErrorIs(t, err, ErrRoundLimitExceeded)
	assert.Equal(t, 2, rl.Count())
	assert.Equal(t, 0, rl.Remaining())
}

func TestRoundLimiter_NeverUnbounded(t *testing.T) {
	rl := NewRoundLimiter(0)
	assert.Equal(t, DefaultMaxRounds, rl.Max())
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{&ValidationError{Field: "id", Message: "missing"}, KindValidation},
		{fmt.Errorf("wrapped: %w", &ExecutionError{Tool: "x", Err: errors.New("boom")}), KindExecution},
		{&TimeoutError{Tool: "x", Timeout: time.Second}, KindTimeout},
		{&ProviderError{Provider: "openai", Err: errors.New("503")}, KindProvider},
		{context.Canceled, KindCancelled},
		{ErrCancelled, KindCancelled},
		{context.DeadlineExceeded, KindTimeout},
		{ErrRoundLimitExceeded, KindRoundLimit},
		{errors.New("mystery"), KindInternal},
		{nil, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindOf(tc.err), "err=%v", tc.err)
	}
}

func TestTimeoutError_IsDeadlineExceeded(t *testing.T) {
	err := &TimeoutError{Tool: "slow", Timeout: time.Millisecond}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProviderSnapshot_IsImmutable(t *testing.T) {
	providers := []ProviderConfig{
		{Name: "primary", Kind: "openai", Capabilities: []Capability{CapabilityText, CapabilityVision}},
		{Name: "backup", Kind: "anthropic"},
	}
	snap := NewProviderSnapshot(1, "primary", providers)

	providers[0].Name = "mutated"
	providers[0].Capabilities[0] = CapabilitySpeech

	got, ok := snap.Default()
	require.True(t, ok)
	assert.Equal(t, "primary", got.Name)
	assert.True(t, got.Supports(CapabilityText))

	list := snap.Providers()
	list[1].Name = "changed"
	_, ok = snap.Lookup("backup")
	assert.True(t, ok)
}

func TestProviderSnapshot_WithCapability(t *testing.T) {
	snap := NewProviderSnapshot(3, "a", []ProviderConfig{
		{Name: "a", Capabilities: []Capability{CapabilityText}},
		{Name: "b", Capabilities: []Capability{CapabilityText, CapabilityVision}},
		{Name: "c"},
	})

	text := snap.WithCapability(CapabilityText, "b")
	require.Len(t, text, 3)
	assert.Equal(t, "b", text[0].Name)

	vision := snap.WithCapability(CapabilityVision, "a")
	require.Len(t, vision, 1)
	assert.Equal(t, "b", vision[0].Name)
}
