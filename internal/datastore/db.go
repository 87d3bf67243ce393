// Package datastore opens the GORM database that backs the violation
// repository and keeps its schema migrated.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/logger"
)

// sqliteParams enables foreign keys and WAL for the embedded database.
const sqliteParams = "?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000"

// Models lists every entity managed by AutoMigrate, parents first.
func Models() []any {
	return []any{&entities.Violation{}, &entities.AlertAction{}}
}

// Open connects to the configured database and migrates the schema.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*gorm.DB, error) {
	dbLog := log.Module("datastore")

	dialector, err := dialectorFor(settings)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.NewGormLoggerAdapter(dbLog, settings.SlowThreshold.Std()),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", settings.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if settings.Type == "sqlite" {
		// SQLite allows a single writer; serializing on one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	dbLog.Info("database ready", logger.String("type", settings.Type))
	return db, nil
}

// Migrate creates or updates the tables of all models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func dialectorFor(settings *conf.DatabaseSettings) (gorm.Dialector, error) {
	switch settings.Type {
	case "sqlite":
		path := settings.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
		return sqlite.Open(path + sqliteParams), nil
	case "mysql":
		return mysql.Open(settings.MySQL.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", settings.Type)
	}
}
