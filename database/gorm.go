// Package database opens GORM connections for the SQL-backed stores.
package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultSQLiteDSN is used when the sqlite driver is selected without a DSN.
const DefaultSQLiteDSN = "kgassist.db"

// Options configure Open.
type Options struct {
	// LogLevel of the GORM logger. Defaults to logger.Warn.
	LogLevel logger.LogLevel
}

// Open returns a GORM handle for driver ("sqlite" or "postgres").
// An empty driver defaults to sqlite.
func Open(driver, dsn string, optFns ...func(o *Options)) (*gorm.DB, error) {
	opts := Options{LogLevel: logger.Warn}
	for _, fn := range optFns {
		fn(&opts)
	}

	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if driver != "sqlite" {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
		dsn = DefaultSQLiteDSN
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(opts.LogLevel)}
	switch driver {
	case "sqlite":
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		db, err := gorm.Open(sqliteDriver.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureSQLiteDirectory(dsn string) error {
	path, ok := sqliteFilePath(dsn)
	if !ok {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}

// sqliteFilePath reports the on-disk path of dsn, or false for in-memory
// databases.
func sqliteFilePath(dsn string) (string, bool) {
	raw := strings.TrimSpace(dsn)
	lower := strings.ToLower(raw)
	switch {
	case raw == "", lower == ":memory:", strings.HasPrefix(lower, "file::memory:"):
		return "", false
	case strings.HasPrefix(lower, "file:"):
		parsed, err := url.Parse(raw)
		if err != nil {
			return stripQuery(raw), true
		}
		if strings.EqualFold(parsed.Query().Get("mode"), "memory") {
			return "", false
		}
		if parsed.Opaque != "" {
			return stripQuery(strings.TrimPrefix(raw, "file:")), true
		}
		if parsed.Path != "" {
			return parsed.Path, true
		}
		return "", false
	default:
		return stripQuery(raw), true
	}
}

func stripQuery(v string) string {
	if i := strings.Index(v, "?"); i >= 0 {
		return v[:i]
	}
	return v
}
