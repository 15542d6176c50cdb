package timer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/barff/frankd/internal/dispatch"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTimer_StartTicksAndRecordsStatus(t *testing.T) {
	var ticks atomic.Int32
	tm := New("heartbeat", func(ctx context.Context) dispatch.Result {
		ticks.Add(1)
		return dispatch.Skipped(dispatch.ReasonNothingNew)
	})

	st := tm.Status()
	if st.Enabled || st.State != "stopped" || st.LastRun != nil || st.NextRun != nil {
		t.Fatalf("new timer status = %+v", st)
	}

	if err := tm.Start(20 * time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = tm.Stop() }()

	waitFor(t, "two ticks", func() bool { return ticks.Load() >= 2 })

	st = tm.Status()
	if !st.Enabled || st.State != "running" {
		t.Errorf("status = %+v, want running", st)
	}
	if st.LastRun == nil || st.NextRun == nil {
		t.Fatalf("last_run/next_run not recorded: %+v", st)
	}
	if !st.NextRun.After(*st.LastRun) {
		t.Errorf("next_run %v not after last_run %v", st.NextRun, st.LastRun)
	}
	if st.LastResult == nil || st.LastResult.Reason != dispatch.ReasonNothingNew {
		t.Errorf("last_result = %+v", st.LastResult)
	}
	if st.Interval != "20ms" {
		t.Errorf("interval = %q", st.Interval)
	}
}

func TestTimer_StopHaltsTicks(t *testing.T) {
	var ticks atomic.Int32
	tm := New("issues", func(ctx context.Context) dispatch.Result {
		ticks.Add(1)
		return dispatch.Skipped(dispatch.ReasonNothingNew)
	})

	if err := tm.Start(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first tick", func() bool { return ticks.Load() >= 1 })

	if err := tm.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if tm.State() != Stopped {
		t.Errorf("state = %s, want stopped", tm.State())
	}
	if tm.Status().NextRun != nil {
		t.Error("stopped timer should not report next_run")
	}

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if ticks.Load() != after {
		t.Errorf("ticks continued after Stop: %d -> %d", after, ticks.Load())
	}

	// Stopping a stopped timer is a no-op.
	if err := tm.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestTimer_StopDuringIntervalWaitIsPrompt(t *testing.T) {
	tm := New("heartbeat", func(ctx context.Context) dispatch.Result {
		t.Error("tick must not run")
		return dispatch.Result{}
	})
	if err := tm.Start(time.Hour); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := tm.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Stop did not interrupt the interval wait")
	}
}

func TestTimer_RestartReplacesInterval(t *testing.T) {
	var ticks atomic.Int32
	tm := New("issues", func(ctx context.Context) dispatch.Result {
		ticks.Add(1)
		return dispatch.Skipped(dispatch.ReasonNothingNew)
	})

	if err := tm.Start(time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := tm.Start(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tm.Stop() }()

	waitFor(t, "tick at new interval", func() bool { return ticks.Load() >= 1 })
	if got := tm.Status().Interval; got != "10ms" {
		t.Errorf("interval = %q, want 10ms", got)
	}
}

func TestTimer_StopDoesNotInterruptTick(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var tickErr atomic.Value

	tm := New("issues", func(ctx context.Context) dispatch.Result {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			tickErr.Store(err)
		}
		return dispatch.Skipped(dispatch.ReasonNothingNew)
	}, WithJoinTimeout(30*time.Millisecond))

	if err := tm.Start(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	<-entered

	if err := tm.Stop(); !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("Stop() error = %v, want ErrJoinTimeout", err)
	}
	if tm.State() != StopRequested {
		t.Errorf("state = %s, want stop_requested", tm.State())
	}

	close(release)
	waitFor(t, "loop exit", func() bool { return tm.State() == Stopped })

	if v := tickErr.Load(); v != nil {
		t.Errorf("tick context was cancelled: %v", v)
	}
	if r := tm.Status().LastResult; r == nil || r.Reason != dispatch.ReasonNothingNew {
		t.Errorf("interrupted tick result not recorded: %+v", r)
	}
}

func TestTimer_PanicIsRecordedAndLoopSurvives(t *testing.T) {
	var ticks atomic.Int32
	tm := New("heartbeat", func(ctx context.Context) dispatch.Result {
		if ticks.Add(1) == 1 {
			panic("tracker exploded")
		}
		return dispatch.Skipped(dispatch.ReasonBusy)
	})

	r := tm.RunNow(context.Background())
	if r.Reason != dispatch.ReasonPanic || r.Error == "" || r.Outcome() != dispatch.OutcomeError {
		t.Fatalf("RunNow() after panic = %+v", r)
	}

	if err := tm.Start(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tm.Stop() }()
	waitFor(t, "tick after panic", func() bool { return ticks.Load() >= 2 })
}

func TestTimer_RunNowWhileStopped(t *testing.T) {
	var observed []dispatch.Result
	var mu sync.Mutex
	tm := New("heartbeat",
		func(ctx context.Context) dispatch.Result { return dispatch.Skipped(dispatch.ReasonNotConfigured) },
		WithInterval(30*time.Minute),
		WithObserver(func(name string, r dispatch.Result) {
			mu.Lock()
			observed = append(observed, r)
			mu.Unlock()
			if name != "heartbeat" {
				t.Errorf("observer name = %q", name)
			}
		}),
	)

	r := <-tm.Trigger()
	if r.Reason != dispatch.ReasonNotConfigured {
		t.Errorf("Trigger() = %+v", r)
	}

	st := tm.Status()
	if st.Enabled {
		t.Error("run-now must not enable the timer")
	}
	if st.LastRun == nil || st.LastResult == nil {
		t.Errorf("run-now not recorded: %+v", st)
	}
	if st.Interval != "30m0s" {
		t.Errorf("interval = %q", st.Interval)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 {
		t.Errorf("observer called %d times, want 1", len(observed))
	}
}

func TestTimer_TicksAreSingleFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	tm := New("issues", func(ctx context.Context) dispatch.Result {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return dispatch.Skipped(dispatch.ReasonNothingNew)
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tm.RunNow(context.Background())
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent ticks = %d, want 1", got)
	}
}

func TestTimer_StartValidation(t *testing.T) {
	tm := New("x", func(ctx context.Context) dispatch.Result { return dispatch.Result{} })

	if err := tm.Start(0); !errors.Is(err, ErrBadInterval) {
		t.Errorf("Start(0) error = %v", err)
	}
	if err := tm.StartCron("not a cron"); err == nil {
		t.Error("StartCron accepted an invalid expression")
	}
	if tm.State() != Stopped {
		t.Errorf("failed starts changed state to %s", tm.State())
	}
}

func TestTimer_StartCron(t *testing.T) {
	tm := New("heartbeat", func(ctx context.Context) dispatch.Result { return dispatch.Result{} })
	if err := tm.StartCron("*/5 * * * *"); err != nil {
		t.Fatalf("StartCron() error = %v", err)
	}
	defer func() { _ = tm.Stop() }()

	st := tm.Status()
	if st.NextRun == nil {
		t.Fatal("next_run not set when StartCron returns")
	}
	if st.Schedule != "*/5 * * * *" {
		t.Errorf("schedule = %q", st.Schedule)
	}
	if st.NextRun.Minute()%5 != 0 || st.NextRun.Second() != 0 {
		t.Errorf("next_run %v is not on a five-minute boundary", st.NextRun)
	}
}

func TestTimer_NextRunSetOnStart(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := New("issues", func(ctx context.Context) dispatch.Result { return dispatch.Result{} },
		WithClock(func() time.Time { return base }))

	for _, interval := range []time.Duration{time.Hour, 2 * time.Hour} {
		if err := tm.Start(interval); err != nil {
			t.Fatalf("Start(%v) error = %v", interval, err)
		}
		st := tm.Status()
		if st.NextRun == nil || !st.NextRun.Equal(base.Add(interval)) {
			t.Errorf("after Start(%v) next_run = %v, want %v", interval, st.NextRun, base.Add(interval))
		}
	}

	if err := tm.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st := tm.Status(); st.NextRun != nil {
		t.Errorf("stopped timer next_run = %v", st.NextRun)
	}
}

func TestIntervalSchedule(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := intervalSchedule{d: 1500 * time.Millisecond}
	if got := s.Next(base); !got.Equal(base.Add(1500 * time.Millisecond)) {
		t.Errorf("Next() = %v", got)
	}
}
