package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/kgassist/core"
)

type sessionRow struct {
	SessionID    string    `gorm:"primaryKey;size:191"`
	OwnerID      string    `gorm:"size:191;not null;index"`
	TenantID     string    `gorm:"size:191;not null"`
	DataStoreRef string    `gorm:"size:512"`
	ProviderJSON string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string { return "sessions" }

type turnRow struct {
	TurnID         string `gorm:"primaryKey;size:191"`
	SessionID      string `gorm:"size:191;not null;index:idx_turns_session_seq,priority:1"`
	Sequence       int64  `gorm:"not null;index:idx_turns_session_seq,priority:2"`
	UserMessage    string `gorm:"type:text;not null"`
	Classification string `gorm:"size:32"`
	RoundsJSON     string `gorm:"type:text"`
	FinalAnswer    string `gorm:"type:text"`
	Status         string `gorm:"size:32;not null;index"`
	Error          string `gorm:"type:text"`
	StartedAt      time.Time
	CompletedAt    *time.Time
}

func (turnRow) TableName() string { return "turns" }

// invocationJSON carries the invocation error as text.
type invocationJSON struct {
	ID         string                `json:"id"`
	ToolName   string                `json:"tool_name"`
	Params     map[string]any        `json:"params"`
	Status     core.InvocationStatus `json:"status"`
	Result     any                   `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
	Attempts   int                   `json:"attempts"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

type roundJSON struct {
	Index            int              `json:"index"`
	Invocations      []invocationJSON `json:"invocations"`
	AggregatedResult string           `json:"aggregated_result,omitempty"`
}

func encodeRounds(rounds []*core.Round) (string, error) {
	out := make([]roundJSON, len(rounds))
	for i, r := range rounds {
		rj := roundJSON{Index: r.Index, AggregatedResult: r.AggregatedResult, Invocations: make([]invocationJSON, len(r.Invocations))}
		for j, inv := range r.Invocations {
			result, msg := inv.Result, inv.ErrorMessage()
			if _, err := json.Marshal(result); err != nil {
				result = fmt.Sprintf("%v", inv.Result)
				if msg == "" {
					msg = "encode result: " + err.Error()
				}
			}
			rj.Invocations[j] = invocationJSON{
				ID:         inv.ID,
				ToolName:   inv.ToolName,
				Params:     inv.Params,
				Status:     inv.Status,
				Result:     result,
				Error:      msg,
				Attempts:   inv.Attempts,
				StartedAt:  inv.StartedAt,
				FinishedAt: inv.FinishedAt,
			}
		}
		out[i] = rj
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func decodeRounds(raw string) ([]*core.Round, error) {
	rounds := []*core.Round{}
	if raw == "" {
		return rounds, nil
	}
	var in []roundJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}
	for _, rj := range in {
		r := &core.Round{Index: rj.Index, AggregatedResult: rj.AggregatedResult, Invocations: make([]*core.ToolInvocation, len(rj.Invocations))}
		for j, ij := range rj.Invocations {
			inv := &core.ToolInvocation{
				ID:         ij.ID,
				ToolName:   ij.ToolName,
				Params:     ij.Params,
				Status:     ij.Status,
				Result:     ij.Result,
				Attempts:   ij.Attempts,
				StartedAt:  ij.StartedAt,
				FinishedAt: ij.FinishedAt,
			}
			if ij.Error != "" {
				inv.Err = errors.New(ij.Error)
			}
			r.Invocations[j] = inv
		}
		rounds = append(rounds, r)
	}
	return rounds, nil
}

func toTurnRow(sessionID string, t *core.Turn) (turnRow, error) {
	rounds, err := encodeRounds(t.Rounds)
	if err != nil {
		return turnRow{}, err
	}
	row := turnRow{
		TurnID:         t.ID,
		SessionID:      sessionID,
		UserMessage:    t.UserMessage,
		Classification: string(t.Classification),
		RoundsJSON:     rounds,
		FinalAnswer:    t.FinalAnswer,
		Status:         string(t.Status),
		Error:          t.Error,
		StartedAt:      t.StartedAt.UTC(),
	}
	if !t.CompletedAt.IsZero() {
		ts := t.CompletedAt.UTC()
		row.CompletedAt = &ts
	}
	return row, nil
}

func (r turnRow) toTurn() (*core.Turn, error) {
	rounds, err := decodeRounds(r.RoundsJSON)
	if err != nil {
		return nil, err
	}
	t := &core.Turn{
		ID:             r.TurnID,
		SessionID:      r.SessionID,
		UserMessage:    r.UserMessage,
		Classification: core.Classification(r.Classification),
		Rounds:         rounds,
		FinalAnswer:    r.FinalAnswer,
		Status:         core.TurnStatus(r.Status),
		Error:          r.Error,
		StartedAt:      r.StartedAt,
	}
	if r.CompletedAt != nil {
		t.CompletedAt = *r.CompletedAt
	}
	return t, nil
}
