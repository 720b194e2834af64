package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kg.db")
	db, err := Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = Close(db) }()

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
	assert.DirExists(t, filepath.Dir(path))
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open("postgres", "")
	assert.ErrorContains(t, err, "dsn is required")

	_, err = Open("mysql", "x")
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestSQLiteFilePath(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{":memory:", "", false},
		{"file::memory:?cache=shared", "", false},
		{"file:test?mode=memory&cache=shared", "", false},
		{"data/kg.db", "data/kg.db", true},
		{"data/kg.db?_pragma=busy_timeout(5000)", "data/kg.db", true},
		{"file:data/kg.db?cache=shared", "data/kg.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			path, ok := sqliteFilePath(tt.dsn)
			assert.Equal(t, tt.onDisk, ok)
			assert.Equal(t, tt.path, path)
		})
	}
}
