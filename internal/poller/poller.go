// Package poller implements the per-tick logic of the heartbeat and
// issue-queue pollers. Each poller exposes Tick, which never returns an
// error: every failure is encoded in the dispatch.Result.
package poller

import (
	"context"

	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/tracker"
)

// Names of the two pollers.
const (
	NameHeartbeat = "heartbeat"
	NameIssues    = "issues"
)

// ReadinessChecker reports whether the target session accepts input.
type ReadinessChecker interface {
	IsReady(ctx context.Context) readiness.State
}

// Injector delivers text into a session.
type Injector interface {
	Inject(ctx context.Context, text, target string, autoSubmit bool) error
}

// Searcher finds open issues by label.
type Searcher interface {
	SearchOpenIssues(ctx context.Context, label string, limit int) ([]tracker.Issue, error)
}

// RateLimiter is optionally implemented by a Searcher.
type RateLimiter interface {
	RateLimit(ctx context.Context) (*tracker.RateLimit, error)
}
