package poller

import (
	"context"
	"errors"
	"sync"

	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/tracker"
)

type fakeReadiness struct {
	mu    sync.Mutex
	state readiness.State
	calls int
}

func (f *fakeReadiness) IsReady(ctx context.Context) readiness.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.state
}

func ready() *fakeReadiness { return &fakeReadiness{state: readiness.State{Idle: true}} }

type injection struct {
	text       string
	target     string
	autoSubmit bool
}

type fakeInjector struct {
	mu    sync.Mutex
	calls []injection
	err   error
}

func (f *fakeInjector) Inject(ctx context.Context, text, target string, autoSubmit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, injection{text: text, target: target, autoSubmit: autoSubmit})
	return f.err
}

type fakeSearcher struct {
	mu        sync.Mutex
	results   map[string][]tracker.Issue
	errs      map[string]error
	calls     map[string]int
	rateLimit *tracker.RateLimit
	rlCalls   int
}

func newSearcher() *fakeSearcher {
	return &fakeSearcher{
		results: make(map[string][]tracker.Issue),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeSearcher) SearchOpenIssues(ctx context.Context, label string, limit int) ([]tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[label]++
	if err := f.errs[label]; err != nil {
		return nil, err
	}
	issues := f.results[label]
	if len(issues) > limit {
		issues = issues[:limit]
	}
	return issues, nil
}

func (f *fakeSearcher) RateLimit(ctx context.Context) (*tracker.RateLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rlCalls++
	if f.rateLimit == nil {
		return nil, errors.New("no rate limit")
	}
	return f.rateLimit, nil
}

func (f *fakeSearcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func issue(repo string, number int, updated string, labels ...string) tracker.Issue {
	return tracker.Issue{
		Repo:      repo,
		Number:    number,
		Title:     "Issue title",
		Body:      "Issue body",
		Labels:    labels,
		UpdatedAt: updated,
	}
}
