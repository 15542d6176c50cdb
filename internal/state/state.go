// Package state persists the issue poller's dedup set and backoff counters.
package state

import (
	"fmt"
	"time"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ProcessedIssue records a successful dispatch of one issue.
type ProcessedIssue struct {
	Key         string    `json:"key"`
	ProcessedAt time.Time `json:"processed_at"`
	// UpdatedAt is the tracker's update timestamp at dispatch time, verbatim.
	UpdatedAt string `json:"updated_at"`
}

// Backoff is the error backoff for tracker queries.
type Backoff struct {
	Count int        `json:"count"`
	Until *time.Time `json:"until,omitempty"`
}

// Active reports whether queries must be suppressed at now, and for how long.
func (b Backoff) Active(now time.Time) (time.Duration, bool) {
	if b.Until == nil || !now.Before(*b.Until) {
		return 0, false
	}
	return b.Until.Sub(now), true
}

// Window returns min(max, base*2^count).
func Window(base, max time.Duration, count int) time.Duration {
	d := base
	for i := 0; i < count && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Processed map[string]ProcessedIssue `json:"processed"`
	Backoff   Backoff                   `json:"backoff"`
	SavedAt   time.Time                 `json:"saved_at"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Processed: make(map[string]ProcessedIssue)}
}

// Store loads and saves snapshots.
type Store interface {
	// Load returns the stored snapshot, or an empty one if nothing was saved.
	Load() (*Snapshot, error)
	// Save replaces the stored snapshot.
	Save(*Snapshot) error
	Close() error
}

// Open returns the store for backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path), nil
	case BackendSQLite:
		s, err := NewSQLiteStoreFromPath(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
