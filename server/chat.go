package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/orchestrator"
	"github.com/hupe1980/kgassist/session"
	"github.com/hupe1980/kgassist/stream"
)

// ChatRequest is the client request of one turn.
type ChatRequest struct {
	Message   string      `json:"message"`
	SessionID string      `json:"sessionId"`
	OwnerID   string      `json:"ownerId"`
	Context   ChatContext `json:"context"`
}

// ChatContext carries per-request options.
type ChatContext struct {
	// EnableTools defaults to true when omitted.
	EnableTools *bool  `json:"enableTools,omitempty"`
	Role        string `json:"role,omitempty"`
}

func (s *server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("server.ws.upgrade_failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	transport := stream.NewWebSocketTransport(conn)

	var req ChatRequest
	readErr := transport.ReadRequest(&req)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	em := s.newEmitter(transport, cancel)
	defer em.Close()

	turnReq := s.turnRequest(r, req)
	if readErr != nil {
		s.reject(em, turnReq.TurnID, &core.ValidationError{Field: "request", Message: fmt.Sprintf("invalid json: %v", readErr)})
		return
	}
	transport.StartReadPump(em.Disconnect)
	s.run(ctx, turnReq, em)
}

func (s *server) handleChatSSE(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatRequestBytes))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	turnReq := s.turnRequest(r, req)
	if err := turnReq.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	transport, err := stream.NewSSETransport(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	em := s.newEmitter(transport, cancel)
	defer em.Close()

	s.run(ctx, turnReq, em)
}

func (s *server) newEmitter(t stream.Transport, cancel context.CancelFunc) *stream.Emitter {
	return stream.NewEmitter(t, func(o *stream.Options) {
		o.Logger = s.opts.Logger
		o.OnDisconnect = func() {
			s.opts.Metrics.StreamDisconnected()
			cancel()
		}
	})
}

// run executes the turn. A turn rejected before it started still gets one
// terminal event so the client contract holds.
func (s *server) run(ctx context.Context, req orchestrator.TurnRequest, em *stream.Emitter) {
	s.opts.Logger.Debug("server.chat.start", "turn_id", req.TurnID, "session_id", req.SessionID, "tenant_id", req.Routing.TenantID)
	turn, err := s.runner.RunTurn(ctx, req, em)
	if turn == nil && err != nil {
		s.reject(em, req.TurnID, err)
	}
}

func (s *server) reject(em *stream.Emitter, turnID string, err error) {
	kind := core.KindOf(err)
	if errors.Is(err, session.ErrOwnerMismatch) {
		kind = core.KindValidation
	}
	s.opts.Logger.Info("server.chat.rejected", "turn_id", turnID, "kind", string(kind), "error", err)
	if kind == core.KindCancelled {
		_ = em.Emit(turnID, core.Cancelled{Reason: err.Error()})
		return
	}
	_ = em.Emit(turnID, core.ErrorTerminal{Kind: kind, Message: err.Error()})
}

func (s *server) turnRequest(r *http.Request, req ChatRequest) orchestrator.TurnRequest {
	routing, snapshot := s.resolver.Resolve(origin(r))
	enableTools := true
	if req.Context.EnableTools != nil {
		enableTools = *req.Context.EnableTools
	}
	return orchestrator.TurnRequest{
		TurnID:      core.NewID(),
		SessionID:   strings.TrimSpace(req.SessionID),
		OwnerID:     strings.TrimSpace(req.OwnerID),
		Message:     strings.TrimSpace(req.Message),
		EnableTools: enableTools,
		Role:        req.Context.Role,
		Routing:     routing,
		Providers:   snapshot,
	}
}

// origin is the Origin header, or the host the request was sent to.
func origin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	return r.Host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
