package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/barff/frankd/internal/logging"
)

// FileStore keeps the snapshot in a single JSON file, replaced atomically on
// every save.
type FileStore struct {
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now, logger: logging.WithComponent("state")}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file. A missing file yields an empty snapshot. Files written
// by older versions, either a bare array of keys or a "processed" array,
// are migrated with processed_at and updated_at set to the load time and
// written back at once, so later loads keep that migration time.
func (s *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return NewSnapshot(), nil
	}

	if data[0] == '[' {
		var keys []string
		if err := json.Unmarshal(data, &keys); err != nil {
			return nil, fmt.Errorf("failed to parse legacy state file: %w", err)
		}
		snap := s.migrate(keys)
		s.persistMigration(snap)
		return snap, nil
	}

	var raw struct {
		Processed json.RawMessage `json:"processed"`
		Backoff   Backoff         `json:"backoff"`
		SavedAt   time.Time       `json:"saved_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	snap := NewSnapshot()
	migrated := false
	processed := bytes.TrimSpace(raw.Processed)
	switch {
	case len(processed) == 0 || bytes.Equal(processed, []byte("null")):
	case processed[0] == '[':
		var keys []string
		if err := json.Unmarshal(processed, &keys); err != nil {
			return nil, fmt.Errorf("failed to parse legacy processed list: %w", err)
		}
		snap = s.migrate(keys)
		migrated = true
	default:
		if err := json.Unmarshal(processed, &snap.Processed); err != nil {
			return nil, fmt.Errorf("failed to parse processed issues: %w", err)
		}
		for key, p := range snap.Processed {
			p.Key = key
			snap.Processed[key] = p
		}
	}
	snap.Backoff = raw.Backoff
	snap.SavedAt = raw.SavedAt
	if migrated {
		s.persistMigration(snap)
	}
	return snap, nil
}

// persistMigration rewrites a migrated snapshot in the current format. A
// failed write is logged; the next save retries it.
func (s *FileStore) persistMigration(snap *Snapshot) {
	snap.SavedAt = s.now().UTC()
	if err := s.Save(snap); err != nil {
		s.logger.Warn("Failed to persist migrated state", slog.String("path", s.path), slog.Any("error", err))
		return
	}
	s.logger.Info("Migrated legacy state file", slog.String("path", s.path), slog.Int("processed", len(snap.Processed)))
}

func (s *FileStore) migrate(keys []string) *Snapshot {
	now := s.now().UTC()
	snap := NewSnapshot()
	for _, key := range keys {
		snap.Processed[key] = ProcessedIssue{
			Key:         key,
			ProcessedAt: now,
			UpdatedAt:   now.Format(time.RFC3339),
		}
	}
	return snap
}

// Save writes snap to a temp file in the same directory and renames it over
// the target.
func (s *FileStore) Save(snap *Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
