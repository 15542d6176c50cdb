package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/injector"
	"github.com/barff/frankd/internal/poller"
	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/state"
	"github.com/barff/frankd/internal/timer"
)

type fakeReadiness struct {
	state readiness.State
}

func (f *fakeReadiness) IsReady(context.Context) readiness.State { return f.state }

type fakeInjector struct {
	mu      sync.Mutex
	allowed map[string]bool
	err     error
	calls   []string
}

func (f *fakeInjector) Inject(_ context.Context, text, target string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target+":"+text)
	return f.err
}

func (f *fakeInjector) Allowed(target string) bool { return f.allowed[target] }

type tickFunc func(ctx context.Context) dispatch.Result

func (f tickFunc) Tick(ctx context.Context) dispatch.Result { return f(ctx) }

func sentTicker() Ticker {
	return tickFunc(func(context.Context) dispatch.Result {
		return dispatch.Sent("/heartbeat", nil, readiness.State{Idle: true})
	})
}

func skippedTicker(reason dispatch.Reason) Ticker {
	return tickFunc(func(context.Context) dispatch.Result { return dispatch.Skipped(reason) })
}

func newTestScheduler(t *testing.T, heartbeat, issues Ticker) (*Scheduler, *fakeInjector) {
	t.Helper()
	inj := &fakeInjector{allowed: map[string]bool{"claude": true}}
	s := New(Config{
		Target:      "claude",
		Heartbeat:   PollerConfig{Interval: time.Hour},
		Issues:      PollerConfig{Interval: time.Hour},
		MinInterval: 50 * time.Millisecond,
		MaxInterval: 2 * time.Hour,
		JoinTimeout: time.Second,
	}, Components{
		Readiness: &fakeReadiness{state: readiness.State{Idle: true}},
		Injector:  inj,
		Heartbeat: heartbeat,
		Issues:    issues,
	})
	t.Cleanup(func() { _ = s.Shutdown() })
	return s, inj
}

func TestClampInterval(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	tests := []struct {
		in, want time.Duration
	}{
		{time.Millisecond, 50 * time.Millisecond},
		{time.Minute, time.Minute},
		{48 * time.Hour, 2 * time.Hour},
	}
	for _, tt := range tests {
		if got := s.ClampInterval(tt.in); got != tt.want {
			t.Errorf("ClampInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_DefaultLimits(t *testing.T) {
	s := New(Config{}, Components{Heartbeat: sentTicker()})
	if s.cfg.MinInterval != DefaultMinInterval || s.cfg.MaxInterval != DefaultMaxInterval {
		t.Errorf("limits = %v..%v", s.cfg.MinInterval, s.cfg.MaxInterval)
	}
	if got := s.Names(); len(got) != 1 || got[0] != poller.NameHeartbeat {
		t.Errorf("Names() = %v, want only heartbeat", got)
	}
}

func TestUnknownPoller(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	if _, err := s.Start("nope", 0); !errors.Is(err, ErrUnknownPoller) {
		t.Errorf("Start() error = %v", err)
	}
	if err := s.Stop("nope"); !errors.Is(err, ErrUnknownPoller) {
		t.Errorf("Stop() error = %v", err)
	}
	if _, err := s.Trigger("nope", 0); !errors.Is(err, ErrUnknownPoller) {
		t.Errorf("Trigger() error = %v", err)
	}
	if _, err := s.PollerStatus(context.Background(), "nope"); !errors.Is(err, ErrUnknownPoller) {
		t.Errorf("PollerStatus() error = %v", err)
	}
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	got, err := s.Start(poller.NameIssues, time.Millisecond)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got != 50*time.Millisecond {
		t.Errorf("applied interval = %v, want clamped 50ms", got)
	}

	st, _ := s.PollerStatus(context.Background(), poller.NameIssues)
	if !st.Enabled || st.State != timer.Running.String() {
		t.Errorf("status after start = %+v", st.Status)
	}

	if err := s.Stop(poller.NameIssues); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	st, _ = s.PollerStatus(context.Background(), poller.NameIssues)
	if st.Enabled || st.State != timer.Stopped.String() {
		t.Errorf("status after stop = %+v", st.Status)
	}
}

func TestStart_DefaultUsesConfig(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	got, err := s.Start(poller.NameHeartbeat, 0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got != time.Hour {
		t.Errorf("applied interval = %v, want 1h", got)
	}
}

func TestStart_CronSchedule(t *testing.T) {
	s := New(Config{
		Heartbeat: PollerConfig{Schedule: "*/5 * * * *"},
	}, Components{Heartbeat: sentTicker()})
	defer func() { _ = s.Shutdown() }()

	got, err := s.Start(poller.NameHeartbeat, 0)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got != 0 {
		t.Errorf("interval = %v, want 0 for cron", got)
	}
	st, _ := s.PollerStatus(context.Background(), poller.NameHeartbeat)
	if st.Schedule != "*/5 * * * *" || st.NextRun == nil {
		t.Errorf("status = %+v", st.Status)
	}
}

func TestAutostart(t *testing.T) {
	s := New(Config{
		Heartbeat: PollerConfig{Enabled: true, Interval: time.Hour},
		Issues:    PollerConfig{Enabled: false, Interval: time.Hour},
	}, Components{Heartbeat: sentTicker(), Issues: sentTicker()})
	defer func() { _ = s.Shutdown() }()

	if err := s.Autostart(); err != nil {
		t.Fatalf("Autostart() error = %v", err)
	}
	hb, _ := s.PollerStatus(context.Background(), poller.NameHeartbeat)
	is, _ := s.PollerStatus(context.Background(), poller.NameIssues)
	if !hb.Enabled {
		t.Error("heartbeat should be running")
	}
	if is.Enabled {
		t.Error("issues should stay stopped")
	}
}

func TestRunNow_RecordsCounters(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), skippedTicker(dispatch.ReasonNothingNew))

	if _, err := s.RunNow(context.Background(), poller.NameHeartbeat); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		r, err := s.RunNow(context.Background(), poller.NameIssues)
		if err != nil {
			t.Fatal(err)
		}
		if r.Reason != dispatch.ReasonNothingNew {
			t.Errorf("reason = %q", r.Reason)
		}
	}

	m := s.Metrics()
	hb := m.Pollers[poller.NameHeartbeat]
	if hb.Ticks != 1 || hb.Sent != 1 {
		t.Errorf("heartbeat counters = %+v", hb)
	}
	is := m.Pollers[poller.NameIssues]
	if is.Ticks != 2 || is.Skipped[string(dispatch.ReasonNothingNew)] != 2 {
		t.Errorf("issues counters = %+v", is)
	}
}

func TestTrigger_NotifiesSubscribers(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	got := make(chan string, 1)
	unsubscribe := s.Subscribe(func(name string, r dispatch.Result) {
		if r.Sent {
			got <- name
		}
	})
	defer unsubscribe()

	if _, err := s.Trigger(poller.NameHeartbeat, 0); err != nil {
		t.Fatal(err)
	}
	select {
	case name := <-got:
		if name != poller.NameHeartbeat {
			t.Errorf("notified for %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not called")
	}
}

func TestTrigger_IntervalOverride(t *testing.T) {
	tests := []struct {
		name        string
		interval    time.Duration
		wantApplied time.Duration
		wantState   string
	}{
		{"no override leaves timer stopped", 0, 0, timer.Stopped.String()},
		{"override restarts timer", 10 * time.Minute, 10 * time.Minute, timer.Running.String()},
		{"override below minimum is clamped", time.Millisecond, 50 * time.Millisecond, timer.Running.String()},
		{"override above maximum is clamped", 48 * time.Hour, 2 * time.Hour, timer.Running.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticked := make(chan struct{}, 8)
			s, _ := newTestScheduler(t, tickFunc(func(context.Context) dispatch.Result {
				select {
				case ticked <- struct{}{}:
				default:
				}
				return dispatch.Skipped(dispatch.ReasonNothingNew)
			}), sentTicker())

			applied, err := s.Trigger(poller.NameHeartbeat, tt.interval)
			if err != nil {
				t.Fatalf("Trigger() error = %v", err)
			}
			if applied != tt.wantApplied {
				t.Errorf("applied = %v, want %v", applied, tt.wantApplied)
			}
			select {
			case <-ticked:
			case <-time.After(2 * time.Second):
				t.Fatal("trigger did not tick")
			}

			st, _ := s.PollerStatus(context.Background(), poller.NameHeartbeat)
			if st.State != tt.wantState {
				t.Errorf("state = %s, want %s", st.State, tt.wantState)
			}
			if tt.wantApplied > 0 && st.Interval != tt.wantApplied.String() {
				t.Errorf("interval = %s, want %s", st.Interval, tt.wantApplied)
			}
		})
	}
}

func TestPollerStatus_IncludesReadiness(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	st, err := s.PollerStatus(context.Background(), poller.NameIssues)
	if err != nil {
		t.Fatalf("PollerStatus() error = %v", err)
	}
	if st.Readiness == nil || !st.Readiness.Idle || !st.Readiness.Ready() {
		t.Errorf("readiness = %+v, want idle and ready", st.Readiness)
	}

	bare := New(Config{}, Components{Heartbeat: sentTicker()})
	st, _ = bare.PollerStatus(context.Background(), poller.NameHeartbeat)
	if st.Readiness == nil || st.Readiness.Ready() {
		t.Errorf("readiness without detector = %+v, want not ready", st.Readiness)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	calls := 0
	unsubscribe := s.Subscribe(func(string, dispatch.Result) { calls++ })
	_, _ = s.RunNow(context.Background(), poller.NameHeartbeat)
	unsubscribe()
	_, _ = s.RunNow(context.Background(), poller.NameHeartbeat)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestInject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		target  string
		injErr  error
		wantErr error
		wantCal string
	}{
		{name: "default target", text: "hello", wantCal: "claude:hello"},
		{name: "explicit target", text: "hi", target: "claude", wantCal: "claude:hi"},
		{name: "empty text", text: "", wantErr: ErrEmptyText},
		{name: "not allowed", text: "x", target: "prod", wantErr: injector.ErrTargetNotAllowed},
		{name: "inject failure", text: "x", injErr: errors.New("tmux gone"), wantCal: "claude:x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, inj := newTestScheduler(t, sentTicker(), sentTicker())
			inj.err = tt.injErr

			err := s.Inject(context.Background(), tt.text, tt.target, true)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			case tt.injErr != nil:
				if !errors.Is(err, tt.injErr) {
					t.Errorf("error = %v, want %v", err, tt.injErr)
				}
			default:
				if err != nil {
					t.Errorf("error = %v", err)
				}
			}

			if tt.wantCal == "" {
				if len(inj.calls) != 0 {
					t.Errorf("unexpected injection %v", inj.calls)
				}
				return
			}
			if len(inj.calls) != 1 || inj.calls[0] != tt.wantCal {
				t.Errorf("calls = %v, want [%s]", inj.calls, tt.wantCal)
			}
		})
	}
}

func TestInject_CountsManualInjections(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())

	_ = s.Inject(context.Background(), "a", "", false)
	_ = s.Inject(context.Background(), "b", "other", false)

	m := s.Metrics()
	if m.ManualInjections != 1 || m.ManualFailures != 1 {
		t.Errorf("manual = %d ok, %d failed", m.ManualInjections, m.ManualFailures)
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestScheduler(t, sentTicker(), sentTicker())
	_, _ = s.RunNow(context.Background(), poller.NameIssues)

	st := s.Status(context.Background())
	if st.Target != "claude" || !st.Ready {
		t.Errorf("status = %+v", st)
	}
	if len(st.Pollers) != 2 {
		t.Fatalf("pollers = %d, want 2", len(st.Pollers))
	}
	if st.Pollers[0].Name != poller.NameHeartbeat || st.Pollers[1].Name != poller.NameIssues {
		t.Errorf("poller order = %s, %s", st.Pollers[0].Name, st.Pollers[1].Name)
	}
	if st.Pollers[1].LastResult == nil || st.Pollers[1].Counters.Ticks != 1 {
		t.Errorf("issues status = %+v", st.Pollers[1])
	}
}

func TestReportInput(t *testing.T) {
	signal := readiness.NewInputSignal()
	s := New(Config{}, Components{Signal: signal, Heartbeat: sentTicker()})

	s.ReportInput(true)
	hasText, at := signal.Snapshot()
	if !hasText || at.IsZero() {
		t.Errorf("signal = %v at %v", hasText, at)
	}
}

func TestStateSummary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := state.NewLedger(nil, state.WithLedgerClock(func() time.Time { return now }))
	ledger.MarkProcessed(
		state.Mark{Key: "o/r#2", UpdatedAt: "2026-03-01T10:00:00Z"},
		state.Mark{Key: "o/r#1", UpdatedAt: "2026-03-01T09:00:00Z"},
	)
	ledger.RecordFailure(time.Minute, time.Hour)

	s := New(Config{}, Components{Ledger: ledger, Heartbeat: sentTicker()})
	sum := Summarize(ledger.Snapshot(), now)

	if sum.ProcessedCount != 2 {
		t.Fatalf("count = %d", sum.ProcessedCount)
	}
	if sum.Processed[0].Key != "o/r#1" {
		t.Errorf("first key = %s, want sorted order", sum.Processed[0].Key)
	}
	if !sum.BackingOff || sum.Backoff.Count != 1 {
		t.Errorf("backoff = %+v (active %v)", sum.Backoff, sum.BackingOff)
	}
	if got := s.State(); got.ProcessedCount != 2 {
		t.Errorf("State().ProcessedCount = %d", got.ProcessedCount)
	}
	if m := s.Metrics(); m.ProcessedIssues != 2 || m.BackoffCount != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestShutdown_StopsAndFlushes(t *testing.T) {
	path := t.TempDir() + "/state.json"
	ledger := state.NewLedger(state.NewFileStore(path))
	s := New(Config{
		Heartbeat: PollerConfig{Enabled: true, Interval: time.Hour},
		Issues:    PollerConfig{Enabled: true, Interval: time.Hour},
	}, Components{Ledger: ledger, Heartbeat: sentTicker(), Issues: sentTicker()})

	if err := s.Autostart(); err != nil {
		t.Fatal(err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for _, name := range s.Names() {
		st, _ := s.PollerStatus(context.Background(), name)
		if st.Enabled {
			t.Errorf("%s still enabled", name)
		}
	}

	snap, err := state.NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.SavedAt.IsZero() {
		t.Error("ledger was not flushed")
	}
}

func TestSetIssueConfig(t *testing.T) {
	issues := poller.NewIssues(poller.IssuesConfig{Labels: []string{"a:fix"}}, nil, state.NewLedger(nil), nil, nil)
	s := New(Config{}, Components{Issues: issues})

	r := poller.DefaultRouter()
	r.BatchType = ""
	s.SetIssueConfig([]string{"b:review"}, r)

	if got := issues.Labels(); len(got) != 1 || got[0] != "b:review" {
		t.Errorf("labels = %v", got)
	}
}
