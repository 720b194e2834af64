package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/model"
	"github.com/hupe1980/kgassist/tool"
)

func TestNavigate(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(Navigate(nil)))

	def, ok := reg.Lookup(NavigateToolName)
	require.True(t, ok)
	assert.True(t, def.HasTag("navigation"))

	out, err := def.Handler.Handle(context.Background(), map[string]any{"page": "attendance"})
	require.NoError(t, err)
	assert.Equal(t, "/attendance", out.(map[string]any)["path"])

	var ve *core.ValidationError
	require.ErrorAs(t, reg.Validate(NavigateToolName, map[string]any{"page": "payroll"}), &ve)
	assert.Equal(t, "page", ve.Field)
	assert.Error(t, reg.Validate(NavigateToolName, map[string]any{}))
}

func TestNavigate_CustomRoutes(t *testing.T) {
	def := Navigate(map[string]Route{"home": {Path: "/", Title: "首页"}})
	props := def.ParamSchema["properties"].(map[string]any)
	assert.Equal(t, []any{"home"}, props["page"].(map[string]any)["enum"])

	_, err := def.Handler.Handle(context.Background(), map[string]any{"page": "students"})
	assert.Error(t, err)
}

func TestMockRules(t *testing.T) {
	rules := MockRules(map[string]Route{
		"meals":    {Path: "/meals", Keywords: []string{"膳食"}},
		"home":     {Path: "/"},
		"calendar": {Path: "/calendar", Keywords: []string{"日历"}},
	})
	require.Len(t, rules, 2, "routes without keywords get no rule")
	assert.Equal(t, map[string]any{"page": "calendar"}, rules[0].Params)
	assert.Equal(t, NavigateToolName, rules[1].Tool)

	p := model.NewMockProvider("mock", MockRules(nil)...)
	res, err := p.Classify(context.Background(), model.Prompt{UserMessage: "帮我打开考勤页面"})
	require.NoError(t, err)
	assert.Equal(t, core.ClassificationToolRequired, res.Classification)
	require.NotNil(t, res.FirstCall)
	assert.Equal(t, map[string]any{"page": "attendance"}, res.FirstCall.Params)
}
