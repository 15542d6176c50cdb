package state

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/barff/frankd/internal/logging"
)

// Mark identifies one issue to record as processed.
type Mark struct {
	Key       string
	UpdatedAt string
}

// Ledger is the in-memory owner of the dispatch state. Every mutation is
// applied under its lock and then written through to the Store. A failed
// write is logged and never fails the mutation.
type Ledger struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	processed map[string]ProcessedIssue
	backoff   Backoff
	savedAt   time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides time.Now.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty Ledger backed by store. A nil store keeps the
// state in memory only.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:     store,
		now:       time.Now,
		logger:    logging.WithComponent("state"),
		processed: make(map[string]ProcessedIssue),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replaces the in-memory state with the store's contents. An unreadable
// store leaves the ledger empty; the error is returned for logging only.
func (l *Ledger) Load() error {
	if l.store == nil {
		return nil
	}
	snap, err := l.store.Load()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.processed = make(map[string]ProcessedIssue)
		l.backoff = Backoff{}
		l.savedAt = time.Time{}
		return err
	}
	l.processed = snap.Processed
	if l.processed == nil {
		l.processed = make(map[string]ProcessedIssue)
	}
	l.backoff = snap.Backoff
	l.savedAt = snap.SavedAt
	return nil
}

// IsNew reports whether an issue with the given tracker update time should be
// dispatched: it was never processed, or it changed since it was.
func (l *Ledger) IsNew(key, updatedAt string) bool {
	l.mu.RLock()
	p, ok := l.processed[key]
	l.mu.RUnlock()
	if !ok {
		return true
	}
	return IsNewer(updatedAt, p.UpdatedAt)
}

// Processed returns the record for key.
func (l *Ledger) Processed(key string) (ProcessedIssue, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.processed[key]
	return p, ok
}

// Keys returns every processed key, sorted.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Sorted(maps.Keys(l.processed))
}

// Len returns the number of processed issues.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.processed)
}

// MarkProcessed records all marks with one shared processed_at and persists.
func (l *Ledger) MarkProcessed(marks ...Mark) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := l.now().UTC()
	for _, m := range marks {
		l.processed[m.Key] = ProcessedIssue{Key: m.Key, ProcessedAt: at, UpdatedAt: m.UpdatedAt}
	}
	l.persistLocked()
	return at
}

// Backoff returns the current backoff state.
func (l *Ledger) Backoff() Backoff {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.backoff
}

// BackingOff reports whether queries are suppressed right now.
func (l *Ledger) BackingOff() (time.Duration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.backoff.Active(l.now())
}

// RecordFailure counts one all-queries-failed cycle, opens a backoff window
// of min(max, base*2^count) and persists. It returns the window.
func (l *Ledger) RecordFailure(base, max time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.backoff.Count++
	window := Window(base, max, l.backoff.Count)
	until := l.now().Add(window)
	l.backoff.Until = &until
	l.persistLocked()
	return window
}

// ResetBackoff clears the failure count after a cycle with any successful
// query. It only writes when something changed.
func (l *Ledger) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backoff.Count == 0 && l.backoff.Until == nil {
		return
	}
	l.backoff = Backoff{}
	l.persistLocked()
}

// Snapshot copies the current state.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Flush writes the current state to the store.
func (l *Ledger) Flush() error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.savedAt = l.now().UTC()
	return l.store.Save(l.snapshotLocked())
}

func (l *Ledger) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Processed: maps.Clone(l.processed),
		Backoff:   l.backoff,
		SavedAt:   l.savedAt,
	}
	if snap.Processed == nil {
		snap.Processed = make(map[string]ProcessedIssue)
	}
	if l.backoff.Until != nil {
		until := *l.backoff.Until
		snap.Backoff.Until = &until
	}
	return snap
}

func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	l.savedAt = l.now().UTC()
	if err := l.store.Save(l.snapshotLocked()); err != nil {
		l.logger.Warn("Failed to persist dispatch state", slog.Any("error", err))
	}
}

// IsNewer reports whether incoming is a later update time than stored. Both
// are compared as RFC 3339 timestamps when they parse, else as strings.
func IsNewer(incoming, stored string) bool {
	in, errIn := time.Parse(time.RFC3339, incoming)
	st, errSt := time.Parse(time.RFC3339, stored)
	if errIn == nil && errSt == nil {
		return in.After(st)
	}
	return incoming > stored
}
