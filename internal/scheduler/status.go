package scheduler

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/state"
	"github.com/barff/frankd/internal/timer"
)

// PollerStatus is a timer snapshot plus its counters. Readiness is set on
// single-poller queries; the combined Status carries it once at the top.
type PollerStatus struct {
	timer.Status
	Counters  Counters         `json:"counters"`
	Readiness *readiness.State `json:"readiness,omitempty"`
}

// Status is the combined view served by the status endpoint.
type Status struct {
	Target    string          `json:"target"`
	Readiness readiness.State `json:"readiness"`
	Ready     bool            `json:"ready"`
	Pollers   []PollerStatus  `json:"pollers"`
	At        time.Time       `json:"at"`
}

// StateSummary describes the dispatch ledger.
type StateSummary struct {
	ProcessedCount int                    `json:"processed_count"`
	Processed      []state.ProcessedIssue `json:"processed"`
	Backoff        state.Backoff          `json:"backoff"`
	BackingOff     bool                   `json:"backing_off"`
	SavedAt        *time.Time             `json:"saved_at,omitempty"`
}

// Status captures readiness once and snapshots every poller.
func (s *Scheduler) Status(ctx context.Context) Status {
	rs := s.Readiness(ctx)
	out := Status{
		Target:    s.cfg.Target,
		Readiness: rs,
		Ready:     rs.Ready(),
		At:        time.Now(),
	}
	counters := s.metrics.snapshot().Pollers
	for _, name := range s.Names() {
		out.Pollers = append(out.Pollers, PollerStatus{
			Status:   s.timers[name].Status(),
			Counters: counters[name],
		})
	}
	return out
}

// PollerStatus snapshots one poller together with the session's current
// readiness.
func (s *Scheduler) PollerStatus(ctx context.Context, name string) (PollerStatus, error) {
	t, err := s.timer(name)
	if err != nil {
		return PollerStatus{}, err
	}
	rs := s.Readiness(ctx)
	return PollerStatus{
		Status:    t.Status(),
		Counters:  s.metrics.snapshot().Pollers[name],
		Readiness: &rs,
	}, nil
}

// State summarizes the dispatch ledger.
func (s *Scheduler) State() StateSummary {
	return Summarize(s.ledger.Snapshot(), time.Now())
}

// Summarize builds a StateSummary from a snapshot, ordered by key.
func Summarize(snap *state.Snapshot, now time.Time) StateSummary {
	out := StateSummary{
		ProcessedCount: len(snap.Processed),
		Processed:      make([]state.ProcessedIssue, 0, len(snap.Processed)),
		Backoff:        snap.Backoff,
	}
	for _, key := range slices.Sorted(maps.Keys(snap.Processed)) {
		out.Processed = append(out.Processed, snap.Processed[key])
	}
	_, out.BackingOff = snap.Backoff.Active(now)
	if !snap.SavedAt.IsZero() {
		at := snap.SavedAt
		out.SavedAt = &at
	}
	return out
}
