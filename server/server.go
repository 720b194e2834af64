// Package server exposes the orchestrator over HTTP: a WebSocket and a
// server-sent events endpoint carrying the same event stream, plus health and
// metrics endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/metrics"
	"github.com/hupe1980/kgassist/orchestrator"
	"github.com/hupe1980/kgassist/stream"
)

const maxChatRequestBytes int64 = 64 << 10

// Resolver maps a request origin to its routing context and the provider
// snapshot in effect. router.Catalog implements it.
type Resolver interface {
	Resolve(origin string) (core.RoutingContext, core.ProviderSnapshot)
}

// Runner runs a turn. *orchestrator.Orchestrator implements it.
type Runner interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest, sink orchestrator.Sink) (*core.Turn, error)
}

// Options configure the HTTP handler.
type Options struct {
	Logger         logging.Logger
	Metrics        *metrics.Recorder
	AllowedOrigins []string
	// Ready reports readiness for /healthz; nil is always ready.
	Ready func() error
}

type server struct {
	runner   Runner
	resolver Resolver
	upgrader *websocket.Upgrader
	opts     Options
}

// NewHandler returns the routed handler.
func NewHandler(runner Runner, resolver Resolver, optFns ...func(o *Options)) http.Handler {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	s := &server{
		runner:   runner,
		resolver: resolver,
		upgrader: stream.NewUpgrader(opts.AllowedOrigins...),
		opts:     opts,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)
	mux.HandleFunc("POST /v1/chat/stream", s.handleChatSSE)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	return mux
}

// New returns an http.Server for addr serving NewHandler.
func New(addr string, runner Runner, resolver Resolver, optFns ...func(o *Options)) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(runner, resolver, optFns...),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
