// ABOUTME: SQLite store using modernc.org/sqlite for audit events, rate buckets and daily usage
// ABOUTME: One connection serializes writers so each single-statement upsert is indivisible

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists gate state in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection makes every statement run to completion before
	// the next starts, across goroutines.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if _, err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewSQLiteStoreFromDB wraps an already-prepared database handle.
// The schema is not touched.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          TEXT PRIMARY KEY,
			ts          TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			identity    TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			detail_json TEXT,

			CHECK (outcome IN ('allowed', 'denied', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_ts ON audit_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_events_identity ON audit_events(identity);
		CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);

		CREATE TABLE IF NOT EXISTS rate_buckets (
			action          TEXT NOT NULL,
			identifier      TEXT NOT NULL,
			window_start_ns INTEGER NOT NULL,
			count           INTEGER NOT NULL,

			PRIMARY KEY (action, identifier)
		);

		CREATE TABLE IF NOT EXISTS daily_usage (
			storage_key TEXT PRIMARY KEY,
			day         TEXT NOT NULL,
			count       INTEGER NOT NULL,
			updated_at  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_daily_usage_day ON daily_usage(day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations brings databases created by older versions up to the current
// schema and returns how many changes it applied. Fresh databases already
// have every column, so nothing runs for them.
func (s *SQLiteStore) runMigrations() (int, error) {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		// daily_usage predates the updated_at column
		{
			table:  "daily_usage",
			check:  `SELECT 1 FROM pragma_table_info('daily_usage') WHERE name = 'updated_at'`,
			apply:  `ALTER TABLE daily_usage ADD COLUMN updated_at TEXT`,
			column: "updated_at",
		},
	}

	applied := 0
	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return applied, fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		applied++
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return applied, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return persistErr("ping", s.db.PingContext(ctx))
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
