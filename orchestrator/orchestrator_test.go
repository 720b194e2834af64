package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kgassist/classifier"
	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/internal/testutil"
	"github.com/hupe1980/kgassist/memory"
	"github.com/hupe1980/kgassist/model"
	"github.com/hupe1980/kgassist/stream"
	"github.com/hupe1980/kgassist/tool"
)

type students struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (s *students) handle(ctx context.Context, _ map[string]any) (any, error) {
	s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxSeen.Load()
		if cur <= prev || s.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []map[string]any{{"name": "小明", "class": "向日葵班"}, {"name": "小红", "class": "向日葵班"}}, nil
}

type harness struct {
	students *students
	started  chan struct{}
	registry *tool.Registry
}

func newHarness() *harness {
	h := &harness{students: &students{}, started: make(chan struct{}, 16), registry: tool.NewRegistry()}
	h.registry.MustRegister(
		tool.NewFunctionTool("students_list", "List all students", nil, h.students.handle, func(d *tool.Definition) {
			d.CapabilityTags = []string{"students"}
		}),
		tool.NewFunctionTool("slow_report", "Generate a report", nil,
			func(ctx context.Context, _ map[string]any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			func(d *tool.Definition) { d.Timeout = 30 * time.Millisecond },
		),
		tool.NewFunctionTool("wait_forever", "Blocks until cancelled", nil,
			func(ctx context.Context, _ map[string]any) (any, error) {
				h.started <- struct{}{}
				<-ctx.Done()
				return nil, ctx.Err()
			},
		),
	)
	return h
}

func (h *harness) orchestrator(t *testing.T, p model.Provider, optFns ...func(o *Options)) *Orchestrator {
	t.Helper()
	o, err := New(h.registry, StaticSelector{Provider: p}, optFns...)
	require.NoError(t, err)
	return o
}

func request(msg string) TurnRequest {
	return TurnRequest{SessionID: "s1", OwnerID: "teacher-li", Message: msg, EnableTools: true, Role: "teacher"}
}

// runTurn wires a recording transport through an emitter whose disconnect
// callback cancels the turn, the same way the server does.
func runTurn(t *testing.T, o *Orchestrator, req TurnRequest, tr *testutil.RecordingTransport) (*core.Turn, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em := stream.NewEmitter(tr, func(opts *stream.Options) { opts.OnDisconnect = cancel })
	return o.RunTurn(ctx, req, em)
}

func toolRequired(name string) func(context.Context, model.Prompt) (model.ClassifyResult, error) {
	return func(context.Context, model.Prompt) (model.ClassifyResult, error) {
		return model.ClassifyResult{
			Classification: core.ClassificationToolRequired,
			FirstCall:      &core.ProposedCall{ToolName: name},
		}, nil
	}
}

func TestRunTurn_GreetingUsesFastPath(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("你好"), tr)
	require.NoError(t, err)

	assert.Equal(t, []core.EventType{core.EventThinkingStart, core.EventFinalAnswer, core.EventComplete}, tr.Types())
	testutil.AssertWellFormed(t, tr.Events())
	assert.Zero(t, sp.ClassifyCalls())
	assert.Zero(t, sp.AnswerCalls())
	assert.Equal(t, core.TurnComplete, turn.Status)
	assert.Equal(t, core.ClassificationSimpleChat, turn.Classification)
	assert.NotEmpty(t, turn.FinalAnswer)
}

func TestRunTurn_SingleToolRound(t *testing.T) {
	h := newHarness()
	p := model.NewMockProvider("mock", model.MockRule{Keywords: []string{"学生"}, Tool: "students_list"})
	o := h.orchestrator(t, p)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("查询所有学生信息"), tr)
	require.NoError(t, err)

	assert.Equal(t, []core.EventType{
		core.EventThinkingStart,
		core.EventToolIntent,
		core.EventToolCallStart,
		core.EventToolCallComplete,
		core.EventToolsComplete,
		core.EventFinalAnswer,
		core.EventComplete,
	}, tr.Types())
	testutil.AssertWellFormed(t, tr.Events())

	intent := testutil.OfType[core.ToolIntent](tr.Events())
	require.Len(t, intent, 1)
	require.Len(t, intent[0].Calls, 1)
	assert.NotEmpty(t, intent[0].Calls[0].ID, "ids are assigned before the intent is emitted")

	done := testutil.OfType[core.ToolCallComplete](tr.Events())
	require.Len(t, done, 1)
	assert.Equal(t, core.InvocationSuccess, done[0].Status)
	assert.Equal(t, intent[0].Calls[0].ID, done[0].InvocationID)

	complete := testutil.OfType[core.Complete](tr.Events())
	require.Len(t, complete, 1)
	assert.Equal(t, 1, complete[0].Rounds)
	assert.Equal(t, core.ClassificationToolRequired, complete[0].Classification)

	assert.Equal(t, int32(1), h.students.calls.Load())
	require.Len(t, turn.Rounds, 1)
	assert.Contains(t, turn.Rounds[0].AggregatedResult, "小明")
	assert.Contains(t, turn.FinalAnswer, "students_list")
}

func TestRunTurn_ToolTimeoutDoesNotFailTurn(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{
		ClassifyFn: toolRequired("slow_report"),
		AnswerFn: func(_ context.Context, p model.Prompt) (string, error) {
			return fmt.Sprintf("报表生成超时 (%s)", p.Rounds[0].Invocations[0].Status), nil
		},
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("生成本周出勤报表"), tr)
	require.NoError(t, err)
	testutil.AssertWellFormed(t, tr.Events())

	done := testutil.OfType[core.ToolCallComplete](tr.Events())
	require.Len(t, done, 1)
	assert.Equal(t, core.InvocationTimeout, done[0].Status)
	assert.NotEmpty(t, done[0].Error)

	summary := testutil.OfType[core.ToolsComplete](tr.Events())
	require.Len(t, summary, 1)
	assert.Equal(t, 1, summary[0].Failed)

	assert.Equal(t, core.TurnComplete, turn.Status)
	assert.Equal(t, "报表生成超时 (timeout)", turn.FinalAnswer)
	assert.Equal(t, core.EventComplete, tr.Events()[len(tr.Events())-1].Type)
}

func TestRunTurn_RoundLimitForcesFinalAnswer(t *testing.T) {
	h := newHarness()
	var forced atomic.Bool
	sp := &model.ScriptedProvider{
		ClassifyFn: toolRequired("students_list"),
		ProposeFn: func(context.Context, model.Prompt) ([]core.ProposedCall, error) {
			return []core.ProposedCall{{ToolName: "students_list"}}, nil
		},
		AnswerFn: func(_ context.Context, p model.Prompt) (string, error) {
			forced.Store(p.ForceFinal)
			return "已根据现有结果作答", nil
		},
	}
	o := h.orchestrator(t, sp, func(o *Options) { o.MaxRounds = 3 })
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("把所有学生都查一遍"), tr)
	require.NoError(t, err)
	testutil.AssertWellFormed(t, tr.Events())

	assert.Len(t, turn.Rounds, 3)
	assert.Equal(t, int32(3), h.students.calls.Load())
	assert.Equal(t, 3, sp.ProposeCalls(), "two follow-up rounds plus the rejected fourth")
	assert.True(t, forced.Load())

	assert.Len(t, testutil.OfType[core.ToolsComplete](tr.Events()), 3)
	answers := testutil.OfType[core.FinalAnswer](tr.Events())
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Forced)
	assert.Len(t, testutil.OfType[core.Complete](tr.Events()), 1)
	assert.Equal(t, core.TurnComplete, turn.Status)
}

func TestRunTurn_DisconnectCancelsInFlightTools(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{ClassifyFn: toolRequired("wait_forever")}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{
		FailOn: func(ev core.StreamEvent) bool { return ev.Type == core.EventToolCallStart },
	}

	turn, err := runTurn(t, o, request("一直等待"), tr)
	require.ErrorIs(t, err, core.ErrCancelled)

	assert.Equal(t, []core.EventType{core.EventThinkingStart, core.EventToolIntent}, tr.Types(), "nothing is delivered after the disconnect")
	assert.True(t, tr.Disconnected())
	assert.Equal(t, core.TurnCancelled, turn.Status)
	require.Len(t, turn.Rounds, 1)
	assert.Equal(t, core.InvocationCancelled, turn.Rounds[0].Invocations[0].Status)
	assert.Zero(t, sp.AnswerCalls())
	assert.Zero(t, o.ActiveTurns())
}

func TestRunTurn_CancelStopsRunningTurn(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{ClassifyFn: toolRequired("wait_forever")}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	req := request("一直等待")
	req.TurnID = "turn-1"
	type result struct {
		turn *core.Turn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		turn, err := runTurn(t, o, req, tr)
		done <- result{turn, err}
	}()

	select {
	case <-h.started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool never started")
	}
	assert.True(t, o.Cancel("turn-1"))
	assert.False(t, o.Cancel("unknown"))

	res := <-done
	require.ErrorIs(t, res.err, core.ErrCancelled)
	assert.Equal(t, core.TurnCancelled, res.turn.Status)

	events := tr.Events()
	testutil.AssertWellFormed(t, events)
	last := events[len(events)-1]
	require.Equal(t, core.EventCancelled, last.Type)
	assert.Equal(t, "turn cancelled", last.Payload.(core.Cancelled).Reason)

	done2 := testutil.OfType[core.ToolCallComplete](events)
	require.Len(t, done2, 1)
	assert.Equal(t, core.InvocationCancelled, done2[0].Status)
}

func TestRunTurn_FatalProviderErrorEndsInError(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{
		AnswerFn: func(context.Context, model.Prompt) (string, error) {
			return "", &core.ProviderError{Provider: "openai", Err: errors.New("invalid api key")}
		},
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("今天的午餐是什么"), tr)
	require.Error(t, err)

	assert.Equal(t, []core.EventType{core.EventThinkingStart, core.EventErrorTerminal}, tr.Types())
	testutil.AssertWellFormed(t, tr.Events())
	term := testutil.OfType[core.ErrorTerminal](tr.Events())
	require.Len(t, term, 1)
	assert.Equal(t, core.KindProvider, term[0].Kind)
	assert.Equal(t, core.TurnError, turn.Status)
	assert.Contains(t, turn.Error, "invalid api key")
}

func TestRunTurn_PanicEndsInError(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{
		AnswerFn: func(context.Context, model.Prompt) (string, error) { panic("nil map") },
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("今天的午餐是什么"), tr)
	require.Error(t, err)

	term := testutil.OfType[core.ErrorTerminal](tr.Events())
	require.Len(t, term, 1)
	assert.Equal(t, core.KindInternal, term[0].Kind)
	assert.Equal(t, core.TurnError, turn.Status)
	testutil.AssertWellFormed(t, tr.Events())
}

func TestRunTurn_ClassifierFailureDegrades(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{
		ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
			return model.ClassifyResult{}, errors.New("upstream 502")
		},
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("帮我看看明天的安排"), tr)
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{core.EventThinkingStart, core.EventFinalAnswer, core.EventComplete}, tr.Types())
	assert.Equal(t, classifier.DegradedReply, turn.FinalAnswer)
	assert.Zero(t, sp.AnswerCalls())
}

func TestRunTurn_MissingProviderDegrades(t *testing.T) {
	h := newHarness()
	sel := selectorFunc(func(core.ProviderSnapshot, string, core.Capability) (model.Provider, error) {
		return nil, &core.ProviderError{Provider: "selector", Err: errors.New("no provider supports text")}
	})
	o, err := New(h.registry, sel)
	require.NoError(t, err)

	tr := &testutil.RecordingTransport{}
	turn, err := runTurn(t, o, request("你好"), tr)
	require.NoError(t, err, "the fast path needs no provider")
	assert.Equal(t, core.TurnComplete, turn.Status)

	tr = &testutil.RecordingTransport{}
	turn, err = runTurn(t, o, request("帮我看看明天的安排"), tr)
	require.NoError(t, err)
	assert.Equal(t, classifier.DegradedReply, turn.FinalAnswer)
}

func TestRunTurn_ToolsDisabledAnswersDirectly(t *testing.T) {
	h := newHarness()
	p := model.NewMockProvider("mock", model.MockRule{Keywords: []string{"学生"}, Tool: "students_list"})
	o := h.orchestrator(t, p)
	tr := &testutil.RecordingTransport{}

	req := request("查询所有学生信息")
	req.EnableTools = false
	turn, err := runTurn(t, o, req, tr)
	require.NoError(t, err)

	assert.Equal(t, []core.EventType{core.EventThinkingStart, core.EventFinalAnswer, core.EventComplete}, tr.Types())
	assert.Zero(t, h.students.calls.Load())
	assert.Empty(t, turn.Rounds)
}

func TestRunTurn_AmbiguousAnswersDirectly(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{
		ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
			return model.ClassifyResult{Classification: core.ClassificationAmbiguous}, nil
		},
		AnswerFn: func(context.Context, model.Prompt) (string, error) { return "请问您想查询哪个班级？", nil },
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("那个怎么样"), tr)
	require.NoError(t, err)
	assert.Equal(t, core.ClassificationAmbiguous, turn.Classification)
	assert.Equal(t, "请问您想查询哪个班级？", turn.FinalAnswer)
	assert.Zero(t, sp.ProposeCalls())
}

func TestRunTurn_NoProposedCallsSkipsRounds(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{
		ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
			return model.ClassifyResult{Classification: core.ClassificationToolRequired}, nil
		},
		AnswerFn: func(context.Context, model.Prompt) (string, error) { return "暂无可用数据", nil },
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("查一下"), tr)
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{core.EventThinkingStart, core.EventFinalAnswer, core.EventComplete}, tr.Types())
	assert.Equal(t, 1, sp.ProposeCalls())
	assert.Empty(t, turn.Rounds)
}

func TestRunTurn_PromptCarriesMemoryHistoryAndRole(t *testing.T) {
	h := newHarness()
	store := memory.NewInMemoryStore()
	require.NoError(t, store.Put(core.MemoryRecord{
		ID: "id1", OwnerID: "teacher-li", Dimension: core.DimensionCoreIdentity,
		Content: "Ms. Li, head teacher of Sunflower class", Salience: 1, Timestamp: time.Now(),
	}))

	var mu sync.Mutex
	var prompts []model.Prompt
	sp := &model.ScriptedProvider{
		AnswerFn: func(_ context.Context, p model.Prompt) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			prompts = append(prompts, p)
			return fmt.Sprintf("answer %d", len(prompts)), nil
		},
	}
	o := h.orchestrator(t, sp, func(o *Options) { o.Memory = memory.NewContextBuilder(store) })

	_, err := runTurn(t, o, request("第一个问题"), &testutil.RecordingTransport{})
	require.NoError(t, err)
	_, err = runTurn(t, o, request("第二个问题"), &testutil.RecordingTransport{})
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0].Context, "Sunflower class")
	assert.Equal(t, "teacher", prompts[0].Role)
	assert.Empty(t, prompts[0].History)
	require.Len(t, prompts[1].History, 1)
	assert.Equal(t, "第一个问题", prompts[1].History[0].UserMessage)
	assert.Equal(t, "answer 1", prompts[1].History[0].FinalAnswer)
	assert.Len(t, prompts[1].Tools, 3)
}

func TestRunTurn_PersistsTurns(t *testing.T) {
	h := newHarness()
	p := model.NewMockProvider("mock", model.MockRule{Keywords: []string{"学生"}, Tool: "students_list"})
	o := h.orchestrator(t, p)

	turn, err := runTurn(t, o, request("查询所有学生信息"), &testutil.RecordingTransport{})
	require.NoError(t, err)

	sess, err := o.Sessions().Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	stored := sess.Turns[0]
	assert.Equal(t, turn.ID, stored.ID)
	assert.Equal(t, core.TurnComplete, stored.Status)
	assert.Equal(t, turn.FinalAnswer, stored.FinalAnswer)
	require.Len(t, stored.Rounds, 1)
	assert.Equal(t, core.InvocationSuccess, stored.Rounds[0].Invocations[0].Status)
}

func TestRunTurn_SerialisesTurnsOfOneSession(t *testing.T) {
	h := newHarness()
	h.students.delay = 20 * time.Millisecond
	p := model.NewMockProvider("mock", model.MockRule{Keywords: []string{"学生"}, Tool: "students_list"})
	o := h.orchestrator(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runTurn(t, o, request("查询所有学生信息"), &testutil.RecordingTransport{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(4), h.students.calls.Load())
	assert.Equal(t, int32(1), h.students.maxSeen.Load(), "turns of one session overlapped")
	sess, err := o.Sessions().Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 4)
	assert.Zero(t, o.locks.len())
}

func TestRunTurn_DifferentSessionsRunConcurrently(t *testing.T) {
	h := newHarness()
	h.students.delay = 50 * time.Millisecond
	p := model.NewMockProvider("mock", model.MockRule{Keywords: []string{"学生"}, Tool: "students_list"})
	o := h.orchestrator(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request("查询所有学生信息")
			req.SessionID = fmt.Sprintf("s%d", i)
			_, err := runTurn(t, o, req, &testutil.RecordingTransport{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Greater(t, h.students.maxSeen.Load(), int32(1))
}

func TestRunTurn_LockWaitHonoursContext(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{ClassifyFn: toolRequired("wait_forever")}
	o := h.orchestrator(t, sp)

	req := request("一直等待")
	req.TurnID = "blocker"
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runTurn(t, o, req, &testutil.RecordingTransport{})
	}()
	<-h.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	tr := &testutil.RecordingTransport{}
	_, err := o.RunTurn(ctx, request("第二个问题"), stream.NewEmitter(tr))
	require.ErrorIs(t, err, core.ErrCancelled)
	assert.Empty(t, tr.Events())

	o.Cancel("blocker")
	<-done
}

func TestRunTurn_RejectsInvalidRequest(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t, &model.ScriptedProvider{})
	tr := &testutil.RecordingTransport{}

	req := request("")
	_, err := runTurn(t, o, req, tr)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "message", ve.Field)
	assert.Empty(t, tr.Events())
}

func TestRunTurn_OwnerMismatchRejected(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t, &model.ScriptedProvider{})

	_, err := runTurn(t, o, request("你好"), &testutil.RecordingTransport{})
	require.NoError(t, err)

	req := request("你好")
	req.OwnerID = "someone-else"
	tr := &testutil.RecordingTransport{}
	_, err = runTurn(t, o, req, tr)
	require.Error(t, err)
	assert.Empty(t, tr.Events())
}

// For any round limit and any number of rounds the provider wants, executed
// rounds never exceed the limit and the stream stays well formed.
func TestRunTurn_RoundsNeverExceedLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 30; iter++ {
		maxRounds := 1 + rng.Intn(6)
		wanted := rng.Intn(10)
		parallel := 1 + rng.Intn(3)

		h := newHarness()
		sp := &model.ScriptedProvider{
			ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
				return model.ClassifyResult{Classification: core.ClassificationToolRequired}, nil
			},
			ProposeFn: func(_ context.Context, p model.Prompt) ([]core.ProposedCall, error) {
				if len(p.Rounds) >= wanted {
					return nil, nil
				}
				calls := make([]core.ProposedCall, parallel)
				for i := range calls {
					calls[i] = core.ProposedCall{ToolName: "students_list"}
				}
				return calls, nil
			},
			AnswerFn: func(context.Context, model.Prompt) (string, error) { return "ok", nil },
		}
		o := h.orchestrator(t, sp, func(o *Options) { o.MaxRounds = maxRounds })
		tr := &testutil.RecordingTransport{}

		turn, err := runTurn(t, o, request("查询"), tr)
		require.NoError(t, err, "iteration %d", iter)

		expected := wanted
		if expected > maxRounds {
			expected = maxRounds
		}
		assert.Len(t, turn.Rounds, expected, "iteration %d", iter)
		assert.Equal(t, int32(expected*parallel), h.students.calls.Load(), "iteration %d", iter)
		answers := testutil.OfType[core.FinalAnswer](tr.Events())
		require.Len(t, answers, 1)
		assert.Equal(t, wanted > maxRounds, answers[0].Forced, "iteration %d", iter)
		testutil.AssertWellFormed(t, tr.Events())
		assert.True(t, tr.Events()[len(tr.Events())-1].Terminal())
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		fn   func(o *Options)
		ok   bool
	}{
		{"defaults", func(*Options) {}, true},
		{"max rounds one", func(o *Options) { o.MaxRounds = 1 }, true},
		{"max rounds fifty", func(o *Options) { o.MaxRounds = MaxRoundsLimit }, true},
		{"max rounds zero", func(o *Options) { o.MaxRounds = 0 }, false},
		{"max rounds too large", func(o *Options) { o.MaxRounds = MaxRoundsLimit + 1 }, false},
		{"zero budget", func(o *Options) { o.MemoryBudget = 0 }, false},
		{"negative history", func(o *Options) { o.HistoryTurns = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tool.NewRegistry(), StaticSelector{}, tt.fn)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNew_FreezesRegistry(t *testing.T) {
	h := newHarness()
	h.orchestrator(t, &model.ScriptedProvider{})
	err := h.registry.Register(tool.NewFunctionTool("late", "registered too late", nil, nil))
	assert.Error(t, err)
	assert.True(t, h.registry.Frozen())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInit, StateThinking, true},
		{StateInit, StateFinalAnswer, false},
		{StateThinking, StateSimpleAnswer, true},
		{StateThinking, StateToolSelection, true},
		{StateThinking, StateToolExecuting, false},
		{StateToolSelection, StateToolExecuting, true},
		{StateToolSelection, StateFinalAnswer, true},
		{StateToolExecuting, StateToolAggregation, true},
		{StateToolExecuting, StateFinalAnswer, false},
		{StateToolAggregation, StateToolSelection, true},
		{StateToolAggregation, StateFinalAnswer, true},
		{StateFinalAnswer, StateComplete, true},
		{StateSimpleAnswer, StateComplete, true},
		{StateToolExecuting, StateCancelled, true},
		{StateThinking, StateError, true},
		{StateComplete, StateError, false},
		{StateCancelled, StateThinking, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRunTurn_UnencodableResultStillCompletes(t *testing.T) {
	h := newHarness()
	h.registry.MustRegister(tool.NewFunctionTool("attendance_avg", "Average attendance", nil,
		func(context.Context, map[string]any) (any, error) {
			return map[string]any{"avg": math.NaN()}, nil
		},
	))
	sp := &model.ScriptedProvider{
		ClassifyFn: toolRequired("attendance_avg"),
		AnswerFn: func(_ context.Context, p model.Prompt) (string, error) {
			return "平均出勤率暂无数据", nil
		},
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("本月平均出勤率是多少"), tr)
	require.NoError(t, err)
	testutil.AssertWellFormed(t, tr.Events())
	assert.Equal(t, core.TurnComplete, turn.Status)

	done := testutil.OfType[core.ToolCallComplete](tr.Events())
	require.Len(t, done, 1)
	assert.Equal(t, core.InvocationSuccess, done[0].Status)
	assert.IsType(t, "", done[0].Result)
	assert.Contains(t, done[0].Error, "encode result")

	for _, ev := range tr.Events() {
		_, err := json.Marshal(ev)
		assert.NoError(t, err, "event %s", ev.Type)
	}

	require.Len(t, turn.Rounds, 1)
	assert.Contains(t, turn.Rounds[0].AggregatedResult, "NaN")
	assert.Contains(t, turn.Rounds[0].AggregatedResult, "encode result")
	assert.Equal(t, "平均出勤率暂无数据", turn.FinalAnswer)
}

func TestRunTurn_InvalidParamsFailInvocationNotTurn(t *testing.T) {
	h := newHarness()
	var called atomic.Int32
	h.registry.MustRegister(tool.NewFunctionTool("class_roster", "List a class", map[string]any{
		"type":       "object",
		"properties": map[string]any{"class_id": map[string]any{"type": "string"}},
		"required":   []string{"class_id"},
	}, func(context.Context, map[string]any) (any, error) {
		called.Add(1)
		return []string{"小明"}, nil
	}))
	sp := &model.ScriptedProvider{
		ClassifyFn: toolRequired("class_roster"),
		AnswerFn: func(_ context.Context, p model.Prompt) (string, error) {
			return fmt.Sprintf("查询失败: %s", p.Rounds[0].Invocations[0].Status), nil
		},
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("查一下向日葵班的名单"), tr)
	require.NoError(t, err)
	testutil.AssertWellFormed(t, tr.Events())

	assert.Equal(t, int32(0), called.Load())
	require.Len(t, turn.Rounds, 1)
	inv := turn.Rounds[0].Invocations[0]
	assert.Equal(t, core.InvocationFailed, inv.Status)
	var ve *core.ValidationError
	require.ErrorAs(t, inv.Err, &ve)

	done := testutil.OfType[core.ToolCallComplete](tr.Events())
	require.Len(t, done, 1)
	assert.Equal(t, core.InvocationFailed, done[0].Status)
	assert.NotEmpty(t, done[0].Error)

	require.Len(t, testutil.OfType[core.FinalAnswer](tr.Events()), 1)
	assert.Equal(t, core.EventComplete, tr.Events()[len(tr.Events())-1].Type)
	assert.Equal(t, core.TurnComplete, turn.Status)
	assert.Equal(t, "查询失败: failed", turn.FinalAnswer)
}

func TestRunTurn_RepeatedInvocationIDIsRejected(t *testing.T) {
	h := newHarness()
	sp := &model.ScriptedProvider{
		ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
			return model.ClassifyResult{
				Classification: core.ClassificationToolRequired,
				FirstCall:      &core.ProposedCall{ID: "call-1", ToolName: "students_list"},
			}, nil
		},
		ProposeFn: func(_ context.Context, p model.Prompt) ([]core.ProposedCall, error) {
			if len(p.Rounds) >= 2 {
				return nil, nil
			}
			return []core.ProposedCall{{ID: "call-1", ToolName: "students_list"}}, nil
		},
		AnswerFn: func(context.Context, model.Prompt) (string, error) { return "共2名学生", nil },
	}
	o := h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}

	turn, err := runTurn(t, o, request("再查一遍所有学生"), tr)
	require.NoError(t, err)
	testutil.AssertWellFormed(t, tr.Events())

	assert.Equal(t, int32(1), h.students.calls.Load())
	require.Len(t, turn.Rounds, 2)
	assert.Equal(t, core.InvocationSuccess, turn.Rounds[0].Invocations[0].Status)
	second := turn.Rounds[1].Invocations[0]
	assert.Equal(t, core.InvocationFailed, second.Status)
	assert.ErrorIs(t, second.Err, core.ErrDuplicateInvocation)

	done := testutil.OfType[core.ToolCallComplete](tr.Events())
	require.Len(t, done, 2)
	assert.Equal(t, core.InvocationFailed, done[1].Status)
	assert.Equal(t, core.TurnComplete, turn.Status)
	assert.Equal(t, "共2名学生", turn.FinalAnswer)
}

func TestRunTurn_CancelDuringAnswerWinsOverCompletion(t *testing.T) {
	h := newHarness()
	var o *Orchestrator
	sp := &model.ScriptedProvider{
		ClassifyFn: toolRequired("students_list"),
		AnswerFn: func(context.Context, model.Prompt) (string, error) {
			o.Cancel("turn-answer")
			return "已完成", nil
		},
	}
	o = h.orchestrator(t, sp)
	tr := &testutil.RecordingTransport{}
	req := request("查询所有学生信息")
	req.TurnID = "turn-answer"

	turn, err := runTurn(t, o, req, tr)
	require.ErrorIs(t, err, core.ErrCancelled)
	testutil.AssertWellFormed(t, tr.Events())

	assert.Equal(t, core.TurnCancelled, turn.Status)
	assert.Empty(t, testutil.OfType[core.FinalAnswer](tr.Events()))
	assert.Empty(t, testutil.OfType[core.Complete](tr.Events()))
	assert.Equal(t, core.EventCancelled, tr.Events()[len(tr.Events())-1].Type)
}

func TestAggregate_IncludesFailures(t *testing.T) {
	ok := core.NewToolInvocation("a", core.ProposedCall{ToolName: "students_list"})
	ok.Status = core.InvocationSuccess
	ok.Result = map[string]any{"count": 2}
	bad := core.NewToolInvocation("b", core.ProposedCall{ToolName: "slow_report"})
	bad.Status = core.InvocationTimeout
	bad.Err = &core.TimeoutError{Tool: "slow_report", Timeout: time.Second}

	out := aggregate([]*core.ToolInvocation{ok, bad})
	assert.True(t, strings.HasPrefix(out, "["))
	assert.Contains(t, out, `"status":"timeout"`)
	assert.Contains(t, out, `"count":2`)
	assert.Contains(t, out, "slow_report")
}

func TestAggregate_UnencodableResultKeepsText(t *testing.T) {
	inv := core.NewToolInvocation("a", core.ProposedCall{ToolName: "attendance_avg"})
	inv.Status = core.InvocationSuccess
	inv.Result = math.Inf(1)

	out := aggregate([]*core.ToolInvocation{inv})
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "+Inf", entries[0]["result"])
	assert.Contains(t, entries[0]["error"], "encode result")
}

type selectorFunc func(core.ProviderSnapshot, string, core.Capability) (model.Provider, error)

func (f selectorFunc) Select(s core.ProviderSnapshot, preferred string, c core.Capability) (model.Provider, error) {
	return f(s, preferred, c)
}
