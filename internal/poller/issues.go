package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/logging"
	"github.com/barff/frankd/internal/state"
	"github.com/barff/frankd/internal/tracker"
)

const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultBackoffBase  = time.Minute
	DefaultBackoffMax   = 30 * time.Minute
	DefaultLimit        = 20

	// rateLimitWarn is the remaining-quota level below which a warning is logged.
	rateLimitWarn     = 100
	rateLimitTimeout  = 5 * time.Second
	maxParallelLabels = 4
)

// IssuesConfig configures the issue-queue poller.
type IssuesConfig struct {
	Target       string
	Labels       []string
	Limit        int
	QueryTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Router       Router
}

// Issues dispatches one unit of work per tick from labelled tracker issues.
type Issues struct {
	search Searcher
	ledger *state.Ledger
	ready  ReadinessChecker
	inject Injector

	target       string
	limit        int
	queryTimeout time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration

	mu     sync.RWMutex
	labels []string
	router Router
}

// NewIssues creates the issue-queue poller.
func NewIssues(cfg IssuesConfig, search Searcher, ledger *state.Ledger, ready ReadinessChecker, inject Injector) *Issues {
	p := &Issues{
		search:       search,
		ledger:       ledger,
		ready:        ready,
		inject:       inject,
		target:       cfg.Target,
		limit:        cfg.Limit,
		queryTimeout: cfg.QueryTimeout,
		backoffBase:  cfg.BackoffBase,
		backoffMax:   cfg.BackoffMax,
		labels:       slices.Clone(cfg.Labels),
		router:       cfg.Router.Clone(),
	}
	if p.limit <= 0 {
		p.limit = DefaultLimit
	}
	if p.queryTimeout <= 0 {
		p.queryTimeout = DefaultQueryTimeout
	}
	if p.backoffBase <= 0 {
		p.backoffBase = DefaultBackoffBase
	}
	if p.backoffMax < p.backoffBase {
		p.backoffMax = max(DefaultBackoffMax, p.backoffBase)
	}
	return p
}

// Labels returns the labels queried each tick.
func (p *Issues) Labels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.labels)
}

// SetLabels replaces the label set from the next tick on.
func (p *Issues) SetLabels(labels []string) {
	p.mu.Lock()
	p.labels = slices.Clone(labels)
	p.mu.Unlock()
}

// SetRouter replaces the routing table from the next tick on.
func (p *Issues) SetRouter(r Router) {
	p.mu.Lock()
	p.router = r.Clone()
	p.mu.Unlock()
}

func (p *Issues) config() ([]string, Router) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.labels), p.router.Clone()
}

// Tick runs one issue-queue cycle: backoff check, label fan-out, dedup,
// readiness gate, routing, injection, and marking.
func (p *Issues) Tick(ctx context.Context) dispatch.Result {
	log := logging.WithContext(ctx)

	if remaining, ok := p.ledger.BackingOff(); ok {
		r := dispatch.Skipped(dispatch.ReasonBackingOff)
		r.BackoffSeconds = int(math.Ceil(remaining.Seconds()))
		log.Debug("Issue poller backing off", slog.Duration("remaining", remaining))
		return r
	}

	labels, router := p.config()
	if len(labels) == 0 {
		return dispatch.Skipped(dispatch.ReasonNoLabels)
	}

	found, errs := p.query(ctx, labels)
	if len(errs) == len(labels) {
		window := p.ledger.RecordFailure(p.backoffBase, p.backoffMax)
		err := errors.Join(errs...)
		log.Warn("All label queries failed, backing off",
			slog.Int("labels", len(labels)),
			slog.Duration("backoff", window),
			slog.Any("error", err),
		)
		r := dispatch.Failed(dispatch.ReasonAllQueriesFailed, err)
		r.BackoffSeconds = int(math.Ceil(window.Seconds()))
		return r
	}
	p.ledger.ResetBackoff()
	for _, err := range errs {
		log.Warn("Label query failed", slog.Any("error", err))
	}

	p.probeRateLimit(ctx)

	var fresh []Candidate
	for _, c := range found {
		if p.ledger.IsNew(c.Issue.Key(), c.Issue.UpdatedAt) {
			fresh = append(fresh, c)
		}
	}
	plan, ok := router.Plan(fresh)
	if !ok {
		log.Debug("No new issues", slog.Int("open", len(found)))
		return dispatch.Skipped(dispatch.ReasonNothingNew)
	}

	rs := p.ready.IsReady(ctx)
	if !rs.Ready() {
		r := dispatch.NotReady(rs)
		log.Debug("Issue dispatch deferred", slog.String("reason", string(r.Reason)), slog.Int("new", len(fresh)))
		return r
	}

	keys := make([]string, 0, len(plan.Items))
	marks := make([]state.Mark, 0, len(plan.Items))
	for _, c := range plan.Items {
		keys = append(keys, c.Issue.Key())
		marks = append(marks, state.Mark{Key: c.Issue.Key(), UpdatedAt: c.Issue.UpdatedAt})
	}

	summary := firstLine(plan.Prompt)
	if err := p.inject.Inject(ctx, plan.Prompt, p.target, true); err != nil {
		log.Warn("Issue injection failed", slog.Any("error", err), slog.Any("issues", keys))
		r := dispatch.Failed(dispatch.ReasonInjectFailed, err)
		r.Command = summary
		r.Issues = keys
		r.Readiness = &rs
		return r
	}

	p.ledger.MarkProcessed(marks...)
	log.Info("Issue dispatched",
		slog.String("type", plan.Type),
		slog.Bool("batch", plan.Batch),
		slog.Any("issues", keys),
	)
	return dispatch.Sent(summary, keys, rs)
}

// query searches every label and merges the hits by key, first label wins,
// in label order then tracker order.
func (p *Issues) query(ctx context.Context, labels []string) ([]Candidate, []error) {
	results := make([][]tracker.Issue, len(labels))
	errs := make([]error, len(labels))

	var g errgroup.Group
	g.SetLimit(maxParallelLabels)
	for i, label := range labels {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
			defer cancel()
			issues, err := p.search.SearchOpenIssues(qctx, label, p.limit)
			if err != nil {
				errs[i] = fmt.Errorf("label %q: %w", label, err)
				return nil
			}
			results[i] = issues
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var found []Candidate
	var failed []error
	for i, label := range labels {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		for _, is := range results[i] {
			key := is.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			found = append(found, Candidate{Issue: is, Label: label})
		}
	}
	return found, failed
}

func (p *Issues) probeRateLimit(ctx context.Context) {
	rl, ok := p.search.(RateLimiter)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, rateLimitTimeout)
	defer cancel()

	limit, err := rl.RateLimit(ctx)
	if err != nil {
		logging.WithContext(ctx).Debug("Rate limit probe failed", slog.Any("error", err))
		return
	}
	if limit.Remaining < rateLimitWarn {
		logging.WithContext(ctx).Warn("Tracker rate limit running low",
			slog.Int("remaining", limit.Remaining),
			slog.Int("limit", limit.Limit),
			slog.Time("reset", limit.Reset),
		)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
