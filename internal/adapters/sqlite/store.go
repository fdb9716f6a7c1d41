// Package sqlite implements the persistent local store on SQLite.
//
// The database is opened in WAL mode with a single connection so every
// logical unit of work is atomic with respect to a crash. Tables are created
// lazily on first open and upgraded additively through PRAGMA user_version.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - queued_items, cached_collections, preferences
// 2 - response_cache for the interception layer
const currentSchemaVersion = 2

// Store is the SQLite-backed local store.
type Store struct {
	db *sql.DB
}

var _ ports.Store = (*Store)(nil)

// Open creates or opens the database at path. Missing parent directories are
// created. Failures wrap domain.ErrStorageUnavailable.
//
// Open is idempotent: existing data is never dropped.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("create data dir", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavailable("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("connect to database", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, unavailable("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, unavailable("apply schema", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV2 adds the response cache used by the interception layer.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS response_cache (
			key         TEXT    PRIMARY KEY,
			cache_name  TEXT    NOT NULL,
			status_code INTEGER NOT NULL,
			header      TEXT    NOT NULL,
			body        BLOB    NOT NULL,
			stored_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_response_cache_name ON response_cache(cache_name);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// storageErr wraps an error from a running store. Only failures that mean
// the database itself is gone are marked unavailable; cancellation and lock
// contention are transient and returned as plain errors.
func storageErr(op string, err error) error {
	if lost(err) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// lost reports whether err means the database can no longer be used.
func lost(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed" {
		return true
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrFull, sqlite3.ErrReadonly,
			sqlite3.ErrIoErr, sqlite3.ErrPerm, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return true
		}
	}
	return false
}

// unavailable wraps a driver error so callers can detect storage failure
// with errors.Is(err, domain.ErrStorageUnavailable).
func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
