package testutil

import (
	"fmt"

	"github.com/hupe1980/kgassist/core"
)

// SessionBuilder provides a fluent helper for constructing sessions with
// history in tests.
//
//	sess := NewSessionBuilder("s1", "teacher-li").Turn("你好", "您好！").Build()
type SessionBuilder struct {
	sess *core.Session
}

// NewSessionBuilder starts a local-tenant session.
func NewSessionBuilder(id, ownerID string) *SessionBuilder {
	return &SessionBuilder{sess: core.NewSession(id, ownerID, core.RoutingContext{TenantID: core.LocalTenant})}
}

// Routing sets the routing context (chainable).
func (b *SessionBuilder) Routing(r core.RoutingContext) *SessionBuilder {
	b.sess.Routing = r
	return b
}

// Turn appends a completed simple-chat turn (chainable).
func (b *SessionBuilder) Turn(message, answer string) *SessionBuilder {
	t := core.NewTurn(fmt.Sprintf("turn-%d", b.sess.TurnCount()+1), b.sess.ID, message)
	t.Classification = core.ClassificationSimpleChat
	t.FinalAnswer = answer
	_ = t.Finish(core.TurnComplete, "")
	b.sess.AppendTurn(t)
	return b
}

// Build returns the session.
func (b *SessionBuilder) Build() *core.Session { return b.sess }
