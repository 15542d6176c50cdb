package scheduler

import (
	"maps"
	"sync"
	"time"

	"github.com/barff/frankd/internal/dispatch"
)

// Counters are the per-poller tick counters.
type Counters struct {
	Ticks   int64            `json:"ticks"`
	Sent    int64            `json:"sent"`
	Skipped map[string]int64 `json:"skipped"` // reason → count
	Errors  map[string]int64 `json:"errors"`  // reason → count
	LastAt  *time.Time       `json:"last_at,omitempty"`
}

func (c Counters) clone() Counters {
	c.Skipped = maps.Clone(c.Skipped)
	c.Errors = maps.Clone(c.Errors)
	if c.LastAt != nil {
		at := *c.LastAt
		c.LastAt = &at
	}
	return c
}

// Metrics is a snapshot of the scheduler counters.
type Metrics struct {
	Pollers          map[string]Counters `json:"pollers"`
	ManualInjections int64               `json:"manual_injections"`
	ManualFailures   int64               `json:"manual_failures"`
	ProcessedIssues  int                 `json:"processed_issues"`
	BackoffCount     int                 `json:"backoff_count"`
	BackoffSeconds   int                 `json:"backoff_seconds"`
}

// metrics collects counters. All methods are goroutine-safe.
type metrics struct {
	mu       sync.RWMutex
	pollers  map[string]*Counters
	manualOK int64
	manualKO int64
}

func newMetrics(names ...string) *metrics {
	m := &metrics{pollers: make(map[string]*Counters)}
	for _, name := range names {
		m.pollers[name] = &Counters{
			Skipped: make(map[string]int64),
			Errors:  make(map[string]int64),
		}
	}
	return m
}

func (m *metrics) record(name string, r dispatch.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.pollers[name]
	if !ok {
		return
	}
	c.Ticks++
	at := r.At
	c.LastAt = &at

	switch r.Outcome() {
	case dispatch.OutcomeSent:
		c.Sent++
	case dispatch.OutcomeSkipped:
		c.Skipped[string(r.Reason)]++
	default:
		c.Errors[string(r.Reason)]++
	}
}

func (m *metrics) manual(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.manualOK++
	} else {
		m.manualKO++
	}
}

func (m *metrics) snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Metrics{
		Pollers:          make(map[string]Counters, len(m.pollers)),
		ManualInjections: m.manualOK,
		ManualFailures:   m.manualKO,
	}
	for name, c := range m.pollers {
		out.Pollers[name] = c.clone()
	}
	return out
}

// Metrics returns the current counters plus ledger gauges.
func (s *Scheduler) Metrics() Metrics {
	out := s.metrics.snapshot()
	out.ProcessedIssues = s.ledger.Len()
	out.BackoffCount = s.ledger.Backoff().Count
	if remaining, ok := s.ledger.BackingOff(); ok {
		out.BackoffSeconds = ceilSeconds(remaining)
	}
	return out
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
