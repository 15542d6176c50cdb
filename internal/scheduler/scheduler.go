// Package scheduler owns the dispatch core: both poller timers, the
// readiness detector, the shared injector and the dispatch ledger. It is the
// only object the API layer talks to.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/injector"
	"github.com/barff/frankd/internal/logging"
	"github.com/barff/frankd/internal/poller"
	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/state"
	"github.com/barff/frankd/internal/timer"
)

var (
	// ErrUnknownPoller is returned for a poller name other than heartbeat or issues.
	ErrUnknownPoller = errors.New("unknown poller")
	// ErrEmptyText is returned by Inject for blank text.
	ErrEmptyText = errors.New("text is required")
)

const (
	DefaultMinInterval = 10 * time.Second
	DefaultMaxInterval = 24 * time.Hour
)

// Readiness reports whether the target session accepts input.
type Readiness interface {
	IsReady(ctx context.Context) readiness.State
}

// Injector is the shared input channel.
type Injector interface {
	Inject(ctx context.Context, text, target string, autoSubmit bool) error
	Allowed(target string) bool
}

// Ticker is a poller.
type Ticker interface {
	Tick(ctx context.Context) dispatch.Result
}

// PollerConfig is the default schedule of one poller.
type PollerConfig struct {
	Enabled  bool
	Interval time.Duration
	Schedule string
}

// Config configures a Scheduler.
type Config struct {
	Target      string
	Heartbeat   PollerConfig
	Issues      PollerConfig
	MinInterval time.Duration
	MaxInterval time.Duration
	JoinTimeout time.Duration
}

// Components are the collaborators a Scheduler drives.
type Components struct {
	Readiness Readiness
	Signal    *readiness.InputSignal
	Injector  Injector
	Ledger    *state.Ledger
	Heartbeat Ticker
	Issues    Ticker
}

// Scheduler coordinates the pollers.
type Scheduler struct {
	cfg       Config
	readiness Readiness
	signal    *readiness.InputSignal
	injector  Injector
	ledger    *state.Ledger
	issues    Ticker
	timers    map[string]*timer.Timer
	defaults  map[string]PollerConfig
	metrics   *metrics
	logger    *slog.Logger

	subMu   sync.RWMutex
	subs    map[int]func(name string, r dispatch.Result)
	nextSub int
}

// New creates a Scheduler with both timers stopped.
func New(cfg Config, c Components) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = max(DefaultMaxInterval, cfg.MinInterval)
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = timer.DefaultJoinTimeout
	}
	if c.Signal == nil {
		c.Signal = readiness.NewInputSignal()
	}
	if c.Ledger == nil {
		c.Ledger = state.NewLedger(nil)
	}

	s := &Scheduler{
		cfg:       cfg,
		readiness: c.Readiness,
		signal:    c.Signal,
		injector:  c.Injector,
		ledger:    c.Ledger,
		issues:    c.Issues,
		timers:    make(map[string]*timer.Timer),
		defaults: map[string]PollerConfig{
			poller.NameHeartbeat: cfg.Heartbeat,
			poller.NameIssues:    cfg.Issues,
		},
		metrics: newMetrics(poller.NameHeartbeat, poller.NameIssues),
		logger:  logging.WithComponent("scheduler"),
		subs:    make(map[int]func(string, dispatch.Result)),
	}

	for name, t := range map[string]Ticker{poller.NameHeartbeat: c.Heartbeat, poller.NameIssues: c.Issues} {
		if t == nil {
			continue
		}
		s.timers[name] = timer.New(name, t.Tick,
			timer.WithInterval(s.defaults[name].Interval),
			timer.WithJoinTimeout(cfg.JoinTimeout),
			timer.WithObserver(s.observe),
		)
	}
	return s
}

func (s *Scheduler) timer(name string) (*timer.Timer, error) {
	t, ok := s.timers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPoller, name)
	}
	return t, nil
}

// Names returns the configured poller names, sorted.
func (s *Scheduler) Names() []string {
	return slices.Sorted(maps.Keys(s.timers))
}

// ClampInterval bounds d to the configured limits.
func (s *Scheduler) ClampInterval(d time.Duration) time.Duration {
	return min(max(d, s.cfg.MinInterval), s.cfg.MaxInterval)
}

// Start enables a poller. A positive interval overrides the configured
// schedule and is clamped to the limits; zero uses the configured default.
// It returns the interval in effect, or zero for a cron schedule.
func (s *Scheduler) Start(name string, interval time.Duration) (time.Duration, error) {
	t, err := s.timer(name)
	if err != nil {
		return 0, err
	}

	if interval <= 0 {
		def := s.defaults[name]
		if def.Schedule != "" {
			if err := t.StartCron(def.Schedule); err != nil {
				return 0, err
			}
			return 0, nil
		}
		interval = def.Interval
	}

	clamped := s.ClampInterval(interval)
	if clamped != interval {
		s.logger.Info("Interval clamped",
			slog.String("poller", name),
			slog.Duration("requested", interval),
			slog.Duration("applied", clamped),
		)
	}
	if err := t.Start(clamped); err != nil {
		return 0, err
	}
	return clamped, nil
}

// Stop disables a poller. An in-progress tick is allowed to finish.
func (s *Scheduler) Stop(name string) error {
	t, err := s.timer(name)
	if err != nil {
		return err
	}
	return t.Stop()
}

// Trigger runs one tick of the poller now, on its own goroutine. A positive
// interval also restarts the poller on that interval, clamped as in Start,
// and the applied interval is returned.
func (s *Scheduler) Trigger(name string, interval time.Duration) (time.Duration, error) {
	t, err := s.timer(name)
	if err != nil {
		return 0, err
	}
	var applied time.Duration
	if interval > 0 {
		if applied, err = s.Start(name, interval); err != nil {
			return 0, err
		}
	}
	t.Trigger()
	return applied, nil
}

// RunNow runs one tick of the poller and waits for its result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (dispatch.Result, error) {
	t, err := s.timer(name)
	if err != nil {
		return dispatch.Result{}, err
	}
	return t.RunNow(ctx), nil
}

// Autostart starts every poller enabled in the config.
func (s *Scheduler) Autostart() error {
	var errs []error
	for _, name := range s.Names() {
		if !s.defaults[name].Enabled {
			continue
		}
		if _, err := s.Start(name, 0); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops both timers and flushes the ledger.
func (s *Scheduler) Shutdown() error {
	var errs []error
	for _, name := range s.Names() {
		if err := s.timers[name].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.ledger.Flush(); err != nil {
		s.logger.Warn("Failed to flush dispatch state", slog.Any("error", err))
	}
	return errors.Join(errs...)
}

// Inject sends arbitrary text through the shared injector. An empty target
// means the poller target.
func (s *Scheduler) Inject(ctx context.Context, text, target string, autoSubmit bool) error {
	if text == "" {
		return ErrEmptyText
	}
	if target == "" {
		target = s.cfg.Target
	}
	if !s.injector.Allowed(target) {
		s.metrics.manual(false)
		return fmt.Errorf("%w: %q", injector.ErrTargetNotAllowed, target)
	}

	ctx = logging.ContextWithTarget(ctx, target)
	err := s.injector.Inject(ctx, text, target, autoSubmit)
	s.metrics.manual(err == nil)
	if err != nil {
		s.logger.Warn("Manual injection failed", slog.String("target", target), slog.Any("error", err))
		return err
	}
	return nil
}

// ReportInput records the UI's input-pending heartbeat.
func (s *Scheduler) ReportInput(hasText bool) {
	s.signal.Report(hasText)
}

// Readiness computes the current readiness snapshot. Without a detector the
// session is reported not ready.
func (s *Scheduler) Readiness(ctx context.Context) readiness.State {
	if s.readiness == nil {
		return readiness.State{}
	}
	return s.readiness.IsReady(ctx)
}

// SetIssueConfig pushes a new label set and routing table to the issue
// poller. It is a no-op when the issue poller is not a *poller.Issues.
func (s *Scheduler) SetIssueConfig(labels []string, router poller.Router) {
	p, ok := s.issues.(*poller.Issues)
	if !ok {
		return
	}
	p.SetLabels(labels)
	p.SetRouter(router)
	s.logger.Info("Issue poller reconfigured", slog.Any("labels", labels))
}

// Subscribe registers fn to be called after every tick. The returned func
// removes it.
func (s *Scheduler) Subscribe(fn func(name string, r dispatch.Result)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Scheduler) observe(name string, r dispatch.Result) {
	s.metrics.record(name, r)

	s.subMu.RLock()
	subs := slices.Collect(maps.Values(s.subs))
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(name, r)
	}
}
