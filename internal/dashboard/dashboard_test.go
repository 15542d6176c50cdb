package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/scheduler"
	"github.com/barff/frankd/internal/state"
	"github.com/barff/frankd/internal/timer"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleStatus() scheduler.Status {
	last := testNow.Add(-5 * time.Minute)
	next := testNow.Add(90 * time.Second)
	sent := dispatch.Sent("/build-issues", []string{"o/r#1", "o/r#2"}, readiness.State{Idle: true})
	return scheduler.Status{
		Target:    "claude",
		Readiness: readiness.State{Idle: true},
		Ready:     true,
		Pollers: []scheduler.PollerStatus{
			{Status: timer.Status{Name: "heartbeat", State: "stopped"}},
			{
				Status: timer.Status{
					Name: "issues", Enabled: true, State: "running",
					IntervalSeconds: 300, LastRun: &last, NextRun: &next, LastResult: &sent,
				},
				Counters: scheduler.Counters{
					Ticks: 4, Sent: 1,
					Skipped: map[string]int64{"nothing_new": 3},
				},
			},
		},
	}
}

func TestPadOrTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
	}{
		{"short", 10},
		{"exactly10!", 10},
		{"this string is far too long", 10},
		{"❯ wide glyphs ❯❯❯❯", 8},
	}
	for _, tt := range tests {
		got := padOrTruncate(tt.in, tt.width)
		if w := lipgloss.Width(got); w != tt.width {
			t.Errorf("padOrTruncate(%q, %d) width = %d (%q)", tt.in, tt.width, w, got)
		}
	}
	if got := truncateVisual("abcdefghij", 6); got != "abc..." {
		t.Errorf("truncateVisual = %q", got)
	}
	if got := truncateVisual("abcdef", 2); got != ".." {
		t.Errorf("truncateVisual narrow = %q", got)
	}
}

func TestRenderPanel_FixedWidth(t *testing.T) {
	out := renderPanel("test", "line one\n"+strings.Repeat("x", 200))
	for i, line := range strings.Split(out, "\n") {
		if w := lipgloss.Width(line); w != panelTotalWidth {
			t.Errorf("line %d width = %d, want %d", i, w, panelTotalWidth)
		}
	}
}

func TestDotLeader(t *testing.T) {
	got := dotLeader("Label", "value", 30)
	if lipgloss.Width(got) != 30 {
		t.Errorf("width = %d: %q", lipgloss.Width(got), got)
	}
	if !strings.HasPrefix(got, "  Label ") || !strings.HasSuffix(got, " value") {
		t.Errorf("dotLeader = %q", got)
	}
	if got := dotLeader(strings.Repeat("L", 40), "v", 20); !strings.Contains(got, "...") {
		t.Errorf("overflow should keep at least three dots: %q", got)
	}
}

func TestFormatDurationCompact(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{5 * time.Minute, "5m"},
		{150 * time.Second, "2m30s"},
		{2 * time.Hour, "2h"},
		{65 * time.Minute, "1h5m"},
	}
	for _, tt := range tests {
		if got := formatDurationCompact(tt.in); got != tt.want {
			t.Errorf("formatDurationCompact(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatRelative(t *testing.T) {
	if got := formatTimeAgo(testNow.Add(-10*time.Second), testNow); got != "just now" {
		t.Errorf("formatTimeAgo = %q", got)
	}
	if got := formatTimeAgo(testNow.Add(-3*time.Hour), testNow); got != "3h ago" {
		t.Errorf("formatTimeAgo = %q", got)
	}
	if got := formatTimeUntil(testNow.Add(90*time.Second), testNow); got != "in 1m30s" {
		t.Errorf("formatTimeUntil = %q", got)
	}
	if got := formatTimeUntil(testNow.Add(-time.Second), testNow); got != "due" {
		t.Errorf("formatTimeUntil past = %q", got)
	}
}

func TestDescribeResult(t *testing.T) {
	tests := []struct {
		name string
		r    dispatch.Result
		want string
	}{
		{"sent", dispatch.Sent("/heartbeat", nil, readiness.State{}), "sent /heartbeat"},
		{"skipped", dispatch.Skipped(dispatch.ReasonNothingNew), "skipped: nothing_new"},
		{"failed with backoff", func() dispatch.Result {
			r := dispatch.Failed(dispatch.ReasonAllQueriesFailed, errors.New("x"))
			r.BackoffSeconds = 120
			return r
		}(), "error: all_queries_failed (retry in 120s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := describeResult(tt.r); got != tt.want {
				t.Errorf("describeResult() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderStatus(t *testing.T) {
	out := RenderStatus(sampleStatus(), testNow, 1)

	for _, want := range []string{
		"SESSION", "claude", "ready",
		"HEARTBEAT", "never",
		"> ISSUES", "5m", "in 1m30s", "5m ago",
		"sent /build-issues (2 issues)",
		"nothing_new 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

type fakeSource struct {
	status    scheduler.Status
	err       error
	triggered []string
	started   []string
	stopped   []string
}

func (f *fakeSource) Status(context.Context) (scheduler.Status, error) { return f.status, f.err }
func (f *fakeSource) Trigger(_ context.Context, name string) error {
	f.triggered = append(f.triggered, name)
	return nil
}
func (f *fakeSource) Start(_ context.Context, name string, _ time.Duration) error {
	f.started = append(f.started, name)
	return nil
}
func (f *fakeSource) Stop(_ context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loaded(t *testing.T, src *fakeSource) Model {
	t.Helper()
	m := NewModel(src, "v1", time.Second)
	m.now = func() time.Time { return testNow }
	next, _ := m.Update(statusMsg{status: src.status})
	return next.(Model)
}

func TestModel_StatusAndSelection(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := loaded(t, src)

	if m.status == nil {
		t.Fatal("status not stored")
	}
	next, _ := m.Update(key("j"))
	m = next.(Model)
	next, _ = m.Update(key("j"))
	m = next.(Model)
	if m.selected != 1 {
		t.Errorf("selected = %d, want clamp at 1", m.selected)
	}
	next, _ = m.Update(key("k"))
	m = next.(Model)
	if m.selected != 0 {
		t.Errorf("selected = %d, want 0", m.selected)
	}
}

func TestModel_Actions(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := loaded(t, src)

	// heartbeat (index 0) is stopped: s starts it
	_, cmd := m.Update(key("s"))
	msg := cmd()
	if len(src.started) != 1 || src.started[0] != "heartbeat" {
		t.Errorf("started = %v", src.started)
	}
	next, _ := m.Update(msg)
	if got := next.(Model).notice; got != "started heartbeat" {
		t.Errorf("notice = %q", got)
	}

	// issues (index 1) is running: space stops it
	m.selected = 1
	_, cmd = m.Update(key(" "))
	cmd()
	if len(src.stopped) != 1 || src.stopped[0] != "issues" {
		t.Errorf("stopped = %v", src.stopped)
	}

	_, cmd = m.Update(key("t"))
	cmd()
	if len(src.triggered) != 1 || src.triggered[0] != "issues" {
		t.Errorf("triggered = %v", src.triggered)
	}
}

func TestModel_ViewStates(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	m := NewModel(src, "v1", 0)
	if m.refresh != DefaultRefresh {
		t.Errorf("refresh = %v", m.refresh)
	}
	if !strings.Contains(m.View(), "connecting") {
		t.Error("initial view should say connecting")
	}

	next, _ := m.Update(statusMsg{err: src.err})
	if !strings.Contains(next.(Model).View(), "gateway unreachable") {
		t.Error("view should report unreachable gateway")
	}

	m = loaded(t, &fakeSource{status: sampleStatus()})
	next, _ = m.Update(statusMsg{err: errors.New("timeout")})
	view := next.(Model).View()
	if !strings.Contains(view, "stale: timeout") || !strings.Contains(view, "SESSION") {
		t.Error("stale status should still render with a warning")
	}
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(&fakeSource{}, "v1", time.Second)
	next, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("quit should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if next.(Model).View() != "" {
		t.Error("view after quit should be empty")
	}
}

func TestRenderState(t *testing.T) {
	until := testNow.Add(2 * time.Minute)
	sum := scheduler.StateSummary{
		ProcessedCount: 2,
		Processed: []state.ProcessedIssue{
			{Key: "o/r#1", ProcessedAt: testNow.Add(-2 * time.Hour)},
			{Key: "o/r#7", ProcessedAt: testNow.Add(-10 * time.Second)},
		},
		Backoff:    state.Backoff{Count: 2, Until: &until},
		BackingOff: true,
	}

	out := RenderState(sum, testNow)
	for _, want := range []string{"STATE", "2 failures, until in 2m", "o/r#1", "2h ago", "o/r#7", "just now", "never"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}
