package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists state in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore using an existing *sql.DB connection.
// It runs migrations to create the required tables if they don't exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("dispatch state store migration failed: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreFromPath opens the database at path (":memory:" for tests).
func NewSQLiteStoreFromPath(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set database pragmas: %w", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_processed (
			issue_key TEXT PRIMARY KEY,
			processed_at TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS dispatch_metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Load reads every processed row and the backoff metadata.
func (s *SQLiteStore) Load() (*Snapshot, error) {
	snap := NewSnapshot()

	rows, err := s.db.Query(`SELECT issue_key, processed_at, updated_at FROM dispatch_processed`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, processedAt, updatedAt string
		if err := rows.Scan(&key, &processedAt, &updatedAt); err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339Nano, processedAt)
		if err != nil {
			return nil, fmt.Errorf("bad processed_at for %s: %w", key, err)
		}
		snap.Processed[key] = ProcessedIssue{Key: key, ProcessedAt: at, UpdatedAt: updatedAt}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	meta, err := s.loadMetadata()
	if err != nil {
		return nil, err
	}
	if v := meta["backoff_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bad backoff_count %q: %w", v, err)
		}
		snap.Backoff.Count = n
	}
	if v := meta["backoff_until"]; v != "" {
		until, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("bad backoff_until %q: %w", v, err)
		}
		snap.Backoff.Until = &until
	}
	if v := meta["saved_at"]; v != "" {
		if at, err := time.Parse(time.RFC3339Nano, v); err == nil {
			snap.SavedAt = at
		}
	}
	return snap, nil
}

func (s *SQLiteStore) loadMetadata() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM dispatch_metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Save upserts every processed row and the backoff metadata in one
// transaction. Processed rows are never deleted.
func (s *SQLiteStore) Save(snap *Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO dispatch_processed (issue_key, processed_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(issue_key) DO UPDATE SET
			processed_at = excluded.processed_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for key, p := range snap.Processed {
		if _, err := stmt.Exec(key, p.ProcessedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
	}

	until := ""
	if snap.Backoff.Until != nil {
		until = snap.Backoff.Until.UTC().Format(time.RFC3339Nano)
	}
	meta := map[string]string{
		"backoff_count": strconv.Itoa(snap.Backoff.Count),
		"backoff_until": until,
		"saved_at":      snap.SavedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`
			INSERT INTO dispatch_metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v); err != nil {
			return fmt.Errorf("failed to save metadata %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
