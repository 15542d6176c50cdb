// Package timer runs a poller's tick on an interval or cron schedule.
//
// Each Timer moves through Stopped -> Running -> StopRequested -> Stopped.
// Start is valid from any state and restarts the loop; Stop is a no-op when
// already stopped. Ticks are single-flight per timer: a run-now trigger and
// a scheduled tick never overlap.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/logging"
)

// DefaultJoinTimeout bounds how long Stop waits for the loop to exit.
const DefaultJoinTimeout = 5 * time.Second

var (
	// ErrJoinTimeout is returned by Stop when the loop is still finishing a
	// tick after the join timeout. The loop exits once that tick completes.
	ErrJoinTimeout = errors.New("timer loop did not exit before join timeout")
	ErrBadInterval = errors.New("interval must be positive")
)

// State is the lifecycle state of a timer loop.
type State int

const (
	Stopped State = iota
	Running
	StopRequested
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	default:
		return "stopped"
	}
}

// TickFunc performs one tick. It must encode failures in the result.
type TickFunc func(ctx context.Context) dispatch.Result

// Status is a snapshot of a timer.
type Status struct {
	Name            string           `json:"name"`
	Enabled         bool             `json:"enabled"`
	State           string           `json:"state"`
	Interval        string           `json:"interval"`
	IntervalSeconds float64          `json:"interval_seconds"`
	Schedule        string           `json:"schedule,omitempty"`
	Ticking         bool             `json:"ticking"`
	LastRun         *time.Time       `json:"last_run,omitempty"`
	NextRun         *time.Time       `json:"next_run,omitempty"`
	LastResult      *dispatch.Result `json:"last_result,omitempty"`
}

// intervalSchedule fires every d from the previous activation. cron.Every
// rounds to whole seconds, which sub-second test intervals cannot tolerate.
type intervalSchedule struct {
	d time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.d)
}

// Timer owns one background loop.
type Timer struct {
	name        string
	tick        TickFunc
	joinTimeout time.Duration
	now         func() time.Time
	observer    func(name string, r dispatch.Result)
	logger      *slog.Logger

	// ctl serializes Start and Stop.
	ctl sync.Mutex
	// tickMu makes ticks single-flight.
	tickMu sync.Mutex

	mu         sync.RWMutex
	state      State
	schedule   cron.Schedule
	interval   time.Duration
	spec       string
	stopCh     chan struct{}
	done       chan struct{}
	ticking    bool
	lastRun    time.Time
	nextRun    time.Time
	lastResult *dispatch.Result
}

// Option configures a Timer.
type Option func(*Timer)

// WithJoinTimeout overrides DefaultJoinTimeout.
func WithJoinTimeout(d time.Duration) Option {
	return func(t *Timer) { t.joinTimeout = d }
}

// WithInterval sets the interval reported before the first Start.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) { t.interval = d }
}

// WithObserver registers a callback invoked after every tick.
func WithObserver(fn func(name string, r dispatch.Result)) Option {
	return func(t *Timer) { t.observer = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// New creates a stopped timer.
func New(name string, tick TickFunc, opts ...Option) *Timer {
	t := &Timer{
		name:        name,
		tick:        tick,
		joinTimeout: DefaultJoinTimeout,
		now:         time.Now,
		logger:      logging.WithComponent("timer").With(slog.String("poller", name)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the timer's identity.
func (t *Timer) Name() string {
	return t.name
}

// Start (re)starts the loop with a fixed interval.
func (t *Timer) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrBadInterval, interval)
	}
	return t.start(intervalSchedule{d: interval}, interval, "")
}

// StartCron (re)starts the loop on a standard five-field cron expression.
func (t *Timer) StartCron(expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return t.start(sched, 0, expr)
}

func (t *Timer) start(sched cron.Schedule, interval time.Duration, spec string) error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	if err := t.stop(); err != nil {
		// The old loop saw its stop signal and will exit after its tick.
		t.logger.Warn("previous loop still finishing, starting new loop anyway", slog.Any("error", err))
	}

	stopCh := make(chan struct{})
	done := make(chan struct{})
	first := sched.Next(t.now())

	t.mu.Lock()
	t.state = Running
	t.schedule = sched
	t.interval = interval
	t.spec = spec
	t.stopCh = stopCh
	t.done = done
	t.nextRun = first
	t.mu.Unlock()

	go t.loop(sched, first, stopCh, done)

	t.logger.Info("Timer started", slog.Duration("interval", interval), slog.String("schedule", spec))
	return nil
}

// Stop signals the loop and waits up to the join timeout for it to exit.
// An in-progress tick is never interrupted.
func (t *Timer) Stop() error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	if err := t.stop(); err != nil {
		return err
	}
	t.logger.Info("Timer stopped")
	return nil
}

func (t *Timer) stop() error {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return nil
	}
	if t.state == Running {
		close(t.stopCh)
		t.state = StopRequested
	}
	done := t.done
	t.mu.Unlock()

	select {
	case <-done:
	case <-time.After(t.joinTimeout):
		return fmt.Errorf("%s: %w", t.name, ErrJoinTimeout)
	}

	t.mu.Lock()
	if t.done == done {
		t.state = Stopped
		t.nextRun = time.Time{}
	}
	t.mu.Unlock()
	return nil
}

// loop waits for next, ticks, and reschedules from the tick's end until
// stopCh closes.
func (t *Timer) loop(sched cron.Schedule, next time.Time, stopCh <-chan struct{}, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		if t.done == done && t.state == StopRequested {
			t.state = Stopped
			t.nextRun = time.Time{}
		}
		t.mu.Unlock()
		close(done)
	}()

	for {
		wait := time.NewTimer(next.Sub(t.now()))
		select {
		case <-stopCh:
			wait.Stop()
			return
		case <-wait.C:
		}

		t.runTick(context.Background())

		// A stop that arrived mid-tick must not allow another tick.
		select {
		case <-stopCh:
			return
		default:
		}

		next = sched.Next(t.now())
		t.mu.Lock()
		if t.done == done {
			t.nextRun = next
		}
		t.mu.Unlock()
	}
}

// RunNow performs one tick immediately, outside the schedule. It waits for
// any tick already in progress.
func (t *Timer) RunNow(ctx context.Context) dispatch.Result {
	return t.runTick(ctx)
}

// Trigger runs a tick on its own goroutine. The returned channel receives
// the result.
func (t *Timer) Trigger() <-chan dispatch.Result {
	ch := make(chan dispatch.Result, 1)
	go func() {
		ch <- t.runTick(context.Background())
	}()
	return ch
}

func (t *Timer) runTick(ctx context.Context) dispatch.Result {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	tickID := uuid.NewString()
	ctx = logging.ContextWithPoller(ctx, t.name)
	ctx = logging.ContextWithTickID(ctx, tickID)

	t.mu.Lock()
	t.ticking = true
	t.mu.Unlock()

	started := t.now()
	result := t.safeTick(ctx)
	if result.At.IsZero() {
		result.At = t.now()
	}

	t.mu.Lock()
	t.ticking = false
	t.lastRun = started
	t.lastResult = &result
	t.mu.Unlock()

	logging.WithContext(ctx).Debug("Tick finished",
		slog.String("outcome", string(result.Outcome())),
		slog.String("reason", string(result.Reason)),
	)

	if t.observer != nil {
		t.observer(t.name, result)
	}
	return result
}

func (t *Timer) safeTick(ctx context.Context) (result dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx).Error("Tick panicked", slog.Any("panic", r))
			result = dispatch.Failed(dispatch.ReasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()
	return t.tick(ctx)
}

// Status returns a snapshot of the timer.
func (t *Timer) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Status{
		Name:            t.name,
		Enabled:         t.state == Running,
		State:           t.state.String(),
		Interval:        t.interval.String(),
		IntervalSeconds: t.interval.Seconds(),
		Schedule:        t.spec,
		Ticking:         t.ticking,
	}
	if !t.lastRun.IsZero() {
		lr := t.lastRun
		st.LastRun = &lr
	}
	if !t.nextRun.IsZero() && t.state == Running {
		nr := t.nextRun
		st.NextRun = &nr
	}
	if t.lastResult != nil {
		r := *t.lastResult
		st.LastResult = &r
	}
	return st
}

// State returns the current lifecycle state.
func (t *Timer) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}
