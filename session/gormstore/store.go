// Package gormstore is a session.Store over a SQL database via GORM.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/migrate"
	"github.com/hupe1980/kgassist/session"
)

// Migrations returns the schema migrations of the store.
func Migrations() []migrate.Migration {
	return []migrate.Migration{
		migrate.AutoMigrate("0001_sessions", &sessionRow{}),
		migrate.AutoMigrate("0002_turns", &turnRow{}),
	}
}

// Store persists sessions in the sessions table and turns in the turns table.
type Store struct {
	db *gorm.DB
}

var _ session.Store = (*Store)(nil)

// New wraps db. The schema must already be migrated.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gormstore: db is required")
	}
	return &Store{db: db}, nil
}

// GetOrCreate implements session.Store.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, ownerID string, routing core.RoutingContext) (*core.Session, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current sessionRow
		err := tx.Where("session_id = ?", sessionID).Take(&current).Error
		switch {
		case err == nil:
			if current.OwnerID != ownerID {
				return fmt.Errorf("session %s: %w", sessionID, session.ErrOwnerMismatch)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			provider, err := json.Marshal(routing.DefaultProvider)
			if err != nil {
				return fmt.Errorf("marshal provider: %w", err)
			}
			now := time.Now().UTC()
			return tx.Create(&sessionRow{
				SessionID:    sessionID,
				OwnerID:      ownerID,
				TenantID:     routing.TenantID,
				DataStoreRef: routing.DataStoreRef,
				ProviderJSON: string(provider),
				CreatedAt:    now,
				UpdatedAt:    now,
			}).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

// SaveTurn implements session.Store.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, turn *core.Turn) error {
	row, err := toTurnRow(sessionID, turn)
	if err != nil {
		return fmt.Errorf("encode turn %s: %w", turn.ID, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess sessionRow
		if err := tx.Where("session_id = ?", sessionID).Take(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("save turn %s: session %s: %w", turn.ID, sessionID, session.ErrNotFound)
			}
			return err
		}

		var existing turnRow
		err := tx.Where("turn_id = ?", turn.ID).Take(&existing).Error
		switch {
		case err == nil:
			res := tx.Model(&turnRow{}).Where("turn_id = ?", turn.ID).Updates(map[string]any{
				"classification": row.Classification,
				"rounds_json":    row.RoundsJSON,
				"final_answer":   row.FinalAnswer,
				"status":         row.Status,
				"error":          row.Error,
				"completed_at":   row.CompletedAt,
			})
			if res.Error != nil {
				return fmt.Errorf("update turn: %w", res.Error)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			var maxSeq int64
			if err := tx.Model(&turnRow{}).
				Where("session_id = ?", sessionID).
				Select("COALESCE(MAX(sequence), 0)").
				Scan(&maxSeq).Error; err != nil {
				return fmt.Errorf("sequence lookup: %w", err)
			}
			row.Sequence = maxSeq + 1
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create turn: %w", err)
			}
		default:
			return err
		}

		return tx.Model(&sessionRow{}).Where("session_id = ?", sessionID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	db := s.db.WithContext(ctx)
	var row sessionRow
	if err := db.Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrNotFound)
		}
		return nil, err
	}

	routing := core.RoutingContext{TenantID: row.TenantID, DataStoreRef: row.DataStoreRef}
	if row.ProviderJSON != "" {
		if err := json.Unmarshal([]byte(row.ProviderJSON), &routing.DefaultProvider); err != nil {
			return nil, fmt.Errorf("decode provider of session %s: %w", sessionID, err)
		}
	}
	sess := core.NewSession(row.SessionID, row.OwnerID, routing)
	sess.Created = row.CreatedAt
	sess.Updated = row.UpdatedAt

	var turns []turnRow
	if err := db.Where("session_id = ?", sessionID).Order("sequence ASC").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	for _, tr := range turns {
		t, err := tr.toTurn()
		if err != nil {
			return nil, fmt.Errorf("decode turn %s: %w", tr.TurnID, err)
		}
		sess.AppendTurn(t)
	}
	sess.Updated = row.UpdatedAt
	return sess, nil
}
