package datastore

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/logger"
)

func TestOpen_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "safetyvision.db")
	db, err := Open(&conf.DatabaseSettings{
		Type:   "sqlite",
		SQLite: conf.SQLiteSettings{Path: path},
	}, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, db.Migrator().HasTable("violations"))
	assert.True(t, db.Migrator().HasTable("alert_actions"))
	assert.FileExists(t, path)

	// Migrating twice is a no-op.
	require.NoError(t, Migrate(db))
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(&conf.DatabaseSettings{Type: "postgres"},
		logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}
