package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/scheduler"
	"github.com/barff/frankd/internal/timer"
)

type injectCall struct {
	text, target string
	autoSubmit   bool
}

type fakeController struct {
	mu sync.Mutex

	startErr  error
	stopErr   error
	injectErr error
	applied   time.Duration

	started   map[string]time.Duration
	stopped   []string
	triggered []string
	injected  []injectCall
	input     []bool
	metrics   scheduler.Metrics

	subs map[int]func(string, dispatch.Result)
	next int
}

func newFakeController() *fakeController {
	return &fakeController{
		started: make(map[string]time.Duration),
		subs:    make(map[int]func(string, dispatch.Result)),
	}
}

func known(name string) error {
	if name != "heartbeat" && name != "issues" {
		return scheduler.ErrUnknownPoller
	}
	return nil
}

func (f *fakeController) Status(context.Context) scheduler.Status {
	return scheduler.Status{
		Target:    "claude",
		Readiness: readiness.State{Idle: true},
		Ready:     true,
		Pollers: []scheduler.PollerStatus{
			{Status: timer.Status{Name: "heartbeat", State: "stopped"}},
			{Status: timer.Status{Name: "issues", State: "running", Enabled: true}},
		},
	}
}

func (f *fakeController) PollerStatus(_ context.Context, name string) (scheduler.PollerStatus, error) {
	if err := known(name); err != nil {
		return scheduler.PollerStatus{}, err
	}
	return scheduler.PollerStatus{
		Status:    timer.Status{Name: name, State: "running", Enabled: true},
		Readiness: &readiness.State{Idle: true},
	}, nil
}

func (f *fakeController) Start(name string, interval time.Duration) (time.Duration, error) {
	if err := known(name); err != nil {
		return 0, err
	}
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[name] = interval
	if f.applied > 0 {
		return f.applied, nil
	}
	return interval, nil
}

func (f *fakeController) Stop(name string) error {
	if err := known(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return f.stopErr
}

func (f *fakeController) Trigger(name string, interval time.Duration) (time.Duration, error) {
	if err := known(name); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, name)
	if interval > 0 {
		f.started[name] = interval
	}
	return interval, nil
}

func (f *fakeController) Inject(_ context.Context, text, target string, autoSubmit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, injectCall{text, target, autoSubmit})
	return f.injectErr
}

func (f *fakeController) ReportInput(hasText bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, hasText)
}

func (f *fakeController) State() scheduler.StateSummary {
	return scheduler.StateSummary{ProcessedCount: 3}
}

func (f *fakeController) Metrics() scheduler.Metrics { return f.metrics }

func (f *fakeController) Subscribe(fn func(string, dispatch.Result)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// emit delivers a tick result to subscribers.
func (f *fakeController) emit(name string, r dispatch.Result) {
	f.mu.Lock()
	var subs []func(string, dispatch.Result)
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(name, r)
	}
}

func (f *fakeController) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
