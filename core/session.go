package core

import (
	"fmt"
	"sync"
	"time"
)

// Classification is the intent classifier's verdict for a turn.
type Classification string

const (
	ClassificationSimpleChat   Classification = "simple_chat"
	ClassificationToolRequired Classification = "tool_required"
	ClassificationAmbiguous    Classification = "ambiguous"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationSimpleChat, ClassificationToolRequired, ClassificationAmbiguous:
		return true
	}
	return false
}

// TurnStatus is the lifecycle status of a turn.
type TurnStatus string

const (
	TurnInProgress TurnStatus = "in_progress"
	TurnComplete   TurnStatus = "complete"
	TurnCancelled  TurnStatus = "cancelled"
	TurnError      TurnStatus = "error"
)

// Terminal reports whether s ends a turn.
func (s TurnStatus) Terminal() bool { return s != TurnInProgress && s != "" }

// Round is one cycle of tool selection, concurrent execution and aggregation.
type Round struct {
	Index            int               `json:"index"`
	Invocations      []*ToolInvocation `json:"invocations"`
	AggregatedResult string            `json:"aggregated_result,omitempty"`
}

// Turn is a single user message plus everything the assistant did to answer it.
// Once its status is terminal the turn is immutable.
type Turn struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	UserMessage    string         `json:"user_message"`
	Classification Classification `json:"classification,omitempty"`
	Rounds         []*Round       `json:"rounds"`
	FinalAnswer    string         `json:"final_answer,omitempty"`
	Status         TurnStatus     `json:"status"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at,omitempty"`
}

// NewTurn creates an in-progress turn for the given session.
func NewTurn(id, sessionID, message string) *Turn {
	return &Turn{
		ID:          id,
		SessionID:   sessionID,
		UserMessage: message,
		Rounds:      []*Round{},
		Status:      TurnInProgress,
		StartedAt:   time.Now(),
	}
}

// AddRound appends a new round and returns it.
func (t *Turn) AddRound() *Round {
	r := &Round{Index: len(t.Rounds)}
	t.Rounds = append(t.Rounds, r)
	return r
}

// Finish moves the turn into a terminal status. A turn can finish only once.
func (t *Turn) Finish(status TurnStatus, errMsg string) error {
	if t.Status.Terminal() {
		return fmt.Errorf("turn %s already finished with status %s", t.ID, t.Status)
	}
	if !status.Terminal() {
		return fmt.Errorf("turn %s: %q is not a terminal status", t.ID, status)
	}
	t.Status = status
	t.Error = errMsg
	t.CompletedAt = time.Now()
	return nil
}

// Session is a conversation owned by one user. Turns are appended in order and
// never removed by the core. Safe for concurrent access.
type Session struct {
	ID      string         `json:"id"`
	OwnerID string         `json:"owner_id"`
	Routing RoutingContext `json:"routing"`
	Turns   []*Turn        `json:"turns"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
	mu      sync.RWMutex
}

// NewSession creates an empty session.
func NewSession(id, ownerID string, routing RoutingContext) *Session {
	now := time.Now()
	return &Session{ID: id, OwnerID: ownerID, Routing: routing, Turns: []*Turn{}, Created: now, Updated: now}
}

// AppendTurn appends t to the session history.
func (s *Session) AppendTurn(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, t)
	s.Updated = time.Now()
}

// RecentTurns returns up to n of the latest completed turns, oldest first.
func (s *Session) RecentTurns(n int) []*Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Turn, 0, n)
	for i := len(s.Turns) - 1; i >= 0 && len(out) < n; i-- {
		if s.Turns[i].Status == TurnComplete {
			out = append(out, s.Turns[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// TurnCount returns the number of turns recorded so far.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Turns)
}

// Clone returns a deep copy of the turn's rounds and invocations. Params and
// results are shared.
func (t *Turn) Clone() *Turn {
	cp := *t
	cp.Rounds = make([]*Round, len(t.Rounds))
	for i, r := range t.Rounds {
		rc := *r
		rc.Invocations = make([]*ToolInvocation, len(r.Invocations))
		for j, inv := range r.Invocations {
			ic := *inv
			rc.Invocations[j] = &ic
		}
		cp.Rounds[i] = &rc
	}
	return &cp
}

// PutTurn replaces the turn with the same id or appends t.
func (s *Session) PutTurn(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updated = time.Now()
	for i, existing := range s.Turns {
		if existing.ID == t.ID {
			s.Turns[i] = t
			return
		}
	}
	s.Turns = append(s.Turns, t)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := &Session{ID: s.ID, OwnerID: s.OwnerID, Routing: s.Routing, Created: s.Created, Updated: s.Updated}
	cp.Turns = make([]*Turn, len(s.Turns))
	for i, t := range s.Turns {
		cp.Turns[i] = t.Clone()
	}
	return cp
}
