// Package gormstore is a memory.Store over a SQL database via GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/memory"
	"github.com/hupe1980/kgassist/migrate"
)

type memoryRecordRow struct {
	ID        string    `gorm:"primaryKey;size:191"`
	OwnerID   string    `gorm:"size:191;not null;index:idx_memory_owner_dim,priority:1"`
	Dimension string    `gorm:"size:64;not null;index:idx_memory_owner_dim,priority:2"`
	Content   string    `gorm:"type:text;not null"`
	Salience  float64   `gorm:"not null;default:0"`
	Timestamp time.Time `gorm:"column:recorded_at;not null;index"`
}

func (memoryRecordRow) TableName() string { return "memory_records" }

// Migrations returns the schema migrations of the store.
func Migrations() []migrate.Migration {
	return []migrate.Migration{migrate.AutoMigrate("0100_memory_records", &memoryRecordRow{})}
}

// Store reads memory records from the memory_records table.
type Store struct {
	db *gorm.DB
}

var _ memory.Store = (*Store)(nil)

// New wraps db. The schema must already be migrated.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gormstore: db is required")
	}
	return &Store{db: db}, nil
}

// Query implements memory.Store.
func (s *Store) Query(ctx context.Context, ownerID string, dim core.Dimension, limit int) ([]core.MemoryRecord, error) {
	q := s.db.WithContext(ctx).
		Where("owner_id = ? AND dimension = ?", ownerID, string(dim)).
		Order("salience DESC").Order("recorded_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []memoryRecordRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query memory records: %w", err)
	}
	out := make([]core.MemoryRecord, len(rows))
	for i, row := range rows {
		out[i] = core.MemoryRecord{
			ID:        row.ID,
			OwnerID:   row.OwnerID,
			Dimension: core.Dimension(row.Dimension),
			Content:   row.Content,
			Salience:  row.Salience,
			Timestamp: row.Timestamp,
		}
	}
	return out, nil
}

// Put upserts records by id. The core never writes memory; Put serves the
// external collector and tests.
func (s *Store) Put(ctx context.Context, records ...core.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]memoryRecordRow, len(records))
	for i, rec := range records {
		if !rec.Dimension.Valid() {
			return fmt.Errorf("record %s: unknown dimension %q", rec.ID, rec.Dimension)
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		rows[i] = memoryRecordRow{
			ID:        rec.ID,
			OwnerID:   rec.OwnerID,
			Dimension: string(rec.Dimension),
			Content:   rec.Content,
			Salience:  rec.Salience,
			Timestamp: ts.UTC(),
		}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("put memory records: %w", err)
	}
	return nil
}
