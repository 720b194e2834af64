// Package session persists conversations and their turns.
//
// Store is the contract used by the orchestrator: a session is created on
// the first message and turns are saved when they start and when they end.
// InMemoryStore keeps sessions in a process-local map; gormstore persists
// them in a SQL database.
package session
