package kgassist

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kgassist/config"
	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/internal/testutil"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/tool"
)

func newApp(t *testing.T, mutate func(c *config.Config), optFns ...func(o *Options)) *App {
	t.Helper()
	chdirTemp(t)
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	optFns = append([]func(o *Options){func(o *Options) { o.Logger = logging.NoOpLogger{} }}, optFns...)
	app, err := New(context.Background(), cfg, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func postChat(t *testing.T, h http.Handler, body string) []core.StreamEvent {
	t.Helper()
	srv := httptest.NewServer(h)
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/v1/chat/stream", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []core.StreamEvent
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev core.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func TestNew_InMemoryDefaults(t *testing.T) {
	app := newApp(t, nil)

	applied, err := app.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)

	_, ok := app.Registry.Lookup("navigate")
	assert.True(t, ok, "navigate is always registered")
	assert.True(t, app.Registry.Frozen())
	assert.NoError(t, app.ready())
}

func TestNew_RegistersTools(t *testing.T) {
	app := newApp(t, nil, func(o *Options) {
		o.Tools = []tool.Definition{tool.NewFunctionTool("students_list", "List all students", nil,
			func(_ context.Context, _ map[string]any) (any, error) { return []string{"小明"}, nil })}
	})
	assert.Equal(t, 2, app.Registry.Len())
}

func TestNew_RejectsDuplicateTool(t *testing.T) {
	chdirTemp(t)
	nav := tool.NewFunctionTool("navigate", "shadow", nil,
		func(_ context.Context, _ map[string]any) (any, error) { return nil, nil })
	_, err := New(context.Background(), config.DefaultConfig(), func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.Tools = []tool.Definition{nav}
	})
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Orchestrator.MaxRounds = 0
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestApp_SQLiteRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "kgassist.db")
	app := newApp(t, func(c *config.Config) {
		c.Database = config.DatabaseConfig{Driver: "sqlite", DSN: dsn}
	})

	applied, err := app.Migrate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, applied)
	require.NoError(t, app.ready())

	events := postChat(t, app.Handler(), `{"message":"你好","sessionId":"s1","ownerId":"teacher-li"}`)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventComplete, events[len(events)-1].Type)

	sess, err := app.Orchestrator.Sessions().Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "teacher-li", sess.OwnerID)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, core.TurnComplete, sess.Turns[0].Status)
}

func TestApp_NavigateThroughMockProvider(t *testing.T) {
	app := newApp(t, nil)

	events := postChat(t, app.Handler(), `{"message":"打开考勤页面","sessionId":"s1","ownerId":"teacher-li"}`)
	assert.Equal(t, []core.EventType{
		core.EventThinkingStart,
		core.EventToolIntent,
		core.EventToolCallStart,
		core.EventToolCallComplete,
		core.EventToolsComplete,
		core.EventFinalAnswer,
		core.EventComplete,
	}, testutil.Types(events))

	done := testutil.OfType[core.ToolCallComplete](events)
	require.Len(t, done, 1)
	assert.Equal(t, "navigate", done[0].ToolName)
	assert.Equal(t, core.InvocationSuccess, done[0].Status)
	assert.Equal(t, "/attendance", done[0].Result.(map[string]any)["path"])
}

// chdirTemp changes into a fresh temp dir for the test and restores the
// original working directory on cleanup (equivalent of t.Chdir, Go 1.24+).
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
