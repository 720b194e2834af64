package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/model"
)

func TestMatchFastPath(t *testing.T) {
	hits := []string{"你好", "您好！", " Hello ", "hi", "早上好呀", "谢谢", "Thank you!", "再见~", "拜拜", "好的", "嗯嗯", "OK", "哈哈哈", "good morning"}
	for _, msg := range hits {
		_, ok := MatchFastPath(msg)
		assert.True(t, ok, msg)
	}
	misses := []string{"", "你好，帮我查询所有学生信息", "查询所有学生信息", "hello world", "谢谢，再帮我生成报告", "ok let's go", "好的，导出名单"}
	for _, msg := range misses {
		_, ok := MatchFastPath(msg)
		assert.False(t, ok, msg)
	}
}

func TestClassify_FastPathSkipsProvider(t *testing.T) {
	p := &model.ScriptedProvider{}
	d, err := New().Classify(context.Background(), p, model.Prompt{UserMessage: "你好"})
	require.NoError(t, err)
	assert.Equal(t, core.ClassificationSimpleChat, d.Classification)
	assert.True(t, d.FastPath)
	assert.NotEmpty(t, d.Reply)
	assert.Equal(t, 0, p.ClassifyCalls())
}

func TestClassify_DelegatesToProvider(t *testing.T) {
	call := &core.ProposedCall{ToolName: "students_list"}
	p := &model.ScriptedProvider{ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
		return model.ClassifyResult{Classification: core.ClassificationToolRequired, FirstCall: call}, nil
	}}
	d, err := New().Classify(context.Background(), p, model.Prompt{UserMessage: "查询所有学生信息"})
	require.NoError(t, err)
	assert.Equal(t, core.ClassificationToolRequired, d.Classification)
	assert.Same(t, call, d.FirstCall)
	assert.False(t, d.FastPath)
	assert.Equal(t, 1, p.ClassifyCalls())
}

func TestClassify_NormalisesUnknownAndDropsStrayCall(t *testing.T) {
	p := &model.ScriptedProvider{ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
		return model.ClassifyResult{Classification: "perhaps", FirstCall: &core.ProposedCall{ToolName: "x"}}, nil
	}}
	d, err := New().Classify(context.Background(), p, model.Prompt{UserMessage: "嗯……那个"})
	require.NoError(t, err)
	assert.Equal(t, core.ClassificationAmbiguous, d.Classification)
	assert.Nil(t, d.FirstCall)
}

func TestClassify_ProviderFailureDegrades(t *testing.T) {
	p := &model.ScriptedProvider{ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
		return model.ClassifyResult{}, &core.ProviderError{Provider: "primary", Err: errors.New("401")}
	}}
	d, err := New().Classify(context.Background(), p, model.Prompt{UserMessage: "查询所有学生信息"})
	require.NoError(t, err)
	assert.Equal(t, core.ClassificationSimpleChat, d.Classification)
	assert.True(t, d.Degraded)
	assert.Equal(t, DegradedReply, d.Reply)
	assert.Error(t, d.Err)
}

func TestClassify_HungProviderTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := &model.ScriptedProvider{ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
		<-release
		return model.ClassifyResult{}, nil
	}}
	start := time.Now()
	d, err := New(func(o *Options) { o.Timeout = 50 * time.Millisecond }).Classify(context.Background(), p, model.Prompt{UserMessage: "查询"})
	require.NoError(t, err)
	assert.True(t, d.Degraded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClassify_PanicDegrades(t *testing.T) {
	p := &model.ScriptedProvider{ClassifyFn: func(context.Context, model.Prompt) (model.ClassifyResult, error) {
		panic("boom")
	}}
	d, err := New().Classify(context.Background(), p, model.Prompt{UserMessage: "查询"})
	require.NoError(t, err)
	assert.True(t, d.Degraded)
}

func TestClassify_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &model.ScriptedProvider{ClassifyFn: func(ctx context.Context, _ model.Prompt) (model.ClassifyResult, error) {
		return model.ClassifyResult{}, ctx.Err()
	}}
	_, err := New().Classify(ctx, p, model.Prompt{UserMessage: "查询"})
	assert.ErrorIs(t, err, context.Canceled)
}
