// Package migrate applies ordered, idempotent schema migrations.
//
// Applied migrations are recorded in the schema_migrations table. Each
// pending migration runs in its own transaction together with its record,
// so a failed migration leaves no partial bookkeeping.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/hupe1980/kgassist/logging"
)

// Migration is one schema change. IDs sort lexically, e.g. "0001_sessions".
type Migration struct {
	ID string
	Up func(tx *gorm.DB) error
}

// AutoMigrate returns a migration that runs gorm AutoMigrate for models.
func AutoMigrate(id string, models ...any) Migration {
	return Migration{ID: id, Up: func(tx *gorm.DB) error { return tx.AutoMigrate(models...) }}
}

type schemaMigrationRow struct {
	ID        string    `gorm:"primaryKey;size:191"`
	AppliedAt time.Time `gorm:"not null"`
}

func (schemaMigrationRow) TableName() string { return "schema_migrations" }

// Options configure a Runner.
type Options struct {
	Logger logging.Logger
}

// Runner applies migrations to a database.
type Runner struct {
	db         *gorm.DB
	migrations []Migration
	logger     logging.Logger
}

// New creates a runner. Duplicate or empty IDs are rejected.
func New(db *gorm.DB, migrations []Migration, optFns ...func(o *Options)) (*Runner, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	seen := make(map[string]struct{}, len(sorted))
	for _, m := range sorted {
		if m.ID == "" || m.Up == nil {
			return nil, fmt.Errorf("migrate: migration %q is incomplete", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("migrate: duplicate migration %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return &Runner{db: db, migrations: sorted, logger: logging.OrNoOp(opts.Logger)}, nil
}

// Run applies every pending migration in ID order and returns the IDs it
// applied. Running again is a no-op.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	db := r.db.WithContext(ctx)
	if err := db.AutoMigrate(&schemaMigrationRow{}); err != nil {
		return nil, fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	done, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	appliedSet := make(map[string]struct{}, len(done))
	for _, id := range done {
		appliedSet[id] = struct{}{}
	}

	var applied []string
	for _, m := range r.migrations {
		if _, ok := appliedSet[m.ID]; ok {
			continue
		}
		start := time.Now()
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&schemaMigrationRow{ID: m.ID, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			r.logger.Error("migrate.apply.failed", "id", m.ID, "error", err)
			return applied, fmt.Errorf("migrate: apply %s: %w", m.ID, err)
		}
		r.logger.Info("migrate.apply.done", "id", m.ID, "duration_ms", time.Since(start).Milliseconds())
		applied = append(applied, m.ID)
	}
	return applied, nil
}

// Applied lists recorded migration IDs in order.
func (r *Runner) Applied(ctx context.Context) ([]string, error) {
	var rows []schemaMigrationRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("migrate: list applied: %w", err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}
