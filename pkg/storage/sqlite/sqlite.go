// Package sqlite constructs the storage engine's SQLite backend: a
// single-file, single-writer database tuned for write-ahead logging and a
// generous busy timeout (spec.md §4.2).
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kraklabs/usenetsync/pkg/storage"
)

// Config controls the SQLite connection.
type Config struct {
	// Path is the database file path. The parent directory is created if
	// missing.
	Path string

	// BusyTimeoutMS is the SQLite busy_timeout pragma, in milliseconds.
	// Defaults to 60000 (60s), matching spec.md's "at least 60 seconds".
	BusyTimeoutMS int
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.BusyTimeoutMS <= 0 {
		c.BusyTimeoutMS = 60_000
	}
}

// Open opens (creating if necessary) the SQLite database at cfg.Path,
// configured for WAL journaling, the configured busy timeout, and normal
// synchronous mode, then wraps it as a storage.Engine.
func Open(cfg Config) (storage.Engine, error) {
	cfg.ApplyDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: Path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeoutMS,
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: underlying db: %w", err)
	}
	// SQLite is single-writer; one connection avoids cross-connection lock
	// contention that the busy_timeout pragma would otherwise have to
	// resolve on every write.
	sqlDB.SetMaxOpenConns(1)

	return storage.NewFromDB(db), nil
}
