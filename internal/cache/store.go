// Package cache keeps successfully extracted transcripts across sessions so a
// repeated identity never costs another tier call.
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

	_ "modernc.org/sqlite"

	"yt-transcripts/internal/model"
)

const schemaVersion = "001_transcripts"

const schema = `CREATE TABLE IF NOT EXISTS transcripts (
    identity      TEXT PRIMARY KEY,
    method        TEXT NOT NULL,
    text          TEXT NOT NULL,
    metadata_json TEXT NOT NULL,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
)`

// Entry is one cached transcript.
type Entry struct {
	Identity  string
	Method    string
	Text      string
	Metadata  model.Metadata
	UpdatedAt time.Time
}

// Store is a SQLite-backed transcript cache.
type Store struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", schemaVersion).Scan(&count); err != nil {
		return fmt.Errorf("scan migration version: %w", err)
	}
	if count == 0 {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("apply migration %s: %w", schemaVersion, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record migration %s: %w", schemaVersion, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached transcript for an identity, if any.
func (s *Store) Get(ctx context.Context, identity string) (Entry, bool, error) {
	var (
		e        Entry
		metaJSON string
		updated  string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT identity, method, text, metadata_json, updated_at FROM transcripts WHERE identity = ?`,
		identity,
	)
	if err := row.Scan(&e.Identity, &e.Method, &e.Text, &metaJSON, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("query cached transcript %s: %w", identity, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached metadata %s: %w", identity, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		e.UpdatedAt = ts
	}
	return e, true, nil
}

// Put stores or replaces the transcript for an identity.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.Identity == "" {
		return errors.New("cache put: identity required")
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts (identity, method, text, metadata_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(identity) DO UPDATE SET
            method = excluded.method,
            text = excluded.text,
            metadata_json = excluded.metadata_json,
            updated_at = excluded.updated_at`,
		e.Identity, e.Method, e.Text, string(metaJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert cached transcript %s: %w", e.Identity, err)
	}
	return nil
}

// Count returns how many transcripts are cached.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM transcripts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cached transcripts: %w", err)
	}
	return n, nil
}
