// Package cache stores tool responses in SQLite keyed by idempotency key,
// so repeated side-effecting calls replay the recorded outcome instead of
// executing twice.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/basinworks/toolplane/internal/call"
)

const (
	defaultBusyTimeout = 5000 // milliseconds

	schemaVersion = 1

	// timeLayout matches SQLite's strftime('%Y-%m-%dT%H:%M:%fZ','now').
	timeLayout = "2006-01-02T15:04:05.000Z"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS responses (
		key        TEXT PRIMARY KEY,
		tool       TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		response   TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at)`,
}

// Store is a SQLite-backed response cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the cache database at path.
//
// The database is created with WAL mode, a 5 s busy timeout, and a single
// connection (SQLite serialises writes). The schema is migrated
// automatically.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cache: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// SetNow overrides the clock for testing. Call before the store is shared.
func (s *Store) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put records the response under the given idempotency key, replacing any
// previous entry.
func (s *Store) Put(ctx context.Context, key, tool, sessionID string, resp call.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache: marshal response: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO responses (key, tool, session_id, response, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		key, tool, sessionID, string(raw), s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("cache: put response: %w", err)
	}
	return nil
}

// Get returns the cached response for the key. The second return value is
// false when no entry exists.
func (s *Store) Get(ctx context.Context, key string) (call.Response, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT response FROM responses WHERE key = ?", key,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return call.Response{}, false, nil
		}
		return call.Response{}, false, fmt.Errorf("cache: get response: %w", err)
	}

	var resp call.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return call.Response{}, false, fmt.Errorf("cache: unmarshal response: %w", err)
	}
	return resp, true, nil
}

// Prune removes entries older than the given age and returns the number of
// rows dropped.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, "DELETE FROM responses WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: prune rows affected: %w", err)
	}
	return n, nil
}

// Len returns the number of cached responses.
func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM responses").Scan(&count); err != nil {
		return 0, fmt.Errorf("cache: count responses: %w", err)
	}
	return count, nil
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("cache: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("cache: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cache: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("cache: record schema version: %w", err)
	}
	return nil
}
