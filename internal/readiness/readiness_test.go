package readiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// cannedCapture returns fixed pane content.
type cannedCapture struct {
	mu      sync.Mutex
	screen  string
	err     error
	targets []string
}

func (c *cannedCapture) Capture(ctx context.Context, target string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, target)
	return c.screen, c.err
}

func TestHasIdlePrompt(t *testing.T) {
	tests := []struct {
		name   string
		screen string
		want   bool
	}{
		{"bare glyph", "output\n❯\n", true},
		{"glyph with one space", "output\n❯ \n\n\n", true},
		{"glyph with two spaces", "output\n❯  \n", false},
		{"glyph followed by text", "❯ fix the tests\n", false},
		{"indented glyph", "  ❯\n", false},
		{"crlf line endings", "done\r\n❯ \r\n", true},
		{"busy spinner", "✻ Thinking… (esc to interrupt)\n", false},
		{"empty screen", "", false},
		{
			name:   "glyph within last eight non-blank lines",
			screen: "❯ \n1\n2\n3\n\n\n4\n5\n6\n7\n",
			want:   true,
		},
		{
			name:   "glyph beyond last eight non-blank lines",
			screen: "❯ \n1\n2\n3\n4\n5\n6\n7\n8\n",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasIdlePrompt(tt.screen, "❯", 8); got != tt.want {
				t.Errorf("HasIdlePrompt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetector_IdleFromCapture(t *testing.T) {
	cap := &cannedCapture{screen: "──────\n❯ \n──────\n  ? for shortcuts\n"}
	d := NewDetector(cap, nil, "claude", "❯")

	st := d.IsReady(context.Background())
	if !st.Idle {
		t.Error("expected idle")
	}
	if st.InputPending {
		t.Error("no signal reported, input must not be pending")
	}
	if !st.Ready() {
		t.Error("expected ready")
	}
	if len(cap.targets) != 1 || cap.targets[0] != "claude" {
		t.Errorf("captured targets = %v", cap.targets)
	}
}

func TestDetector_CaptureErrorFailsClosed(t *testing.T) {
	cap := &cannedCapture{screen: "❯\n", err: errors.New("tmux: no server running")}
	d := NewDetector(cap, nil, "claude", "❯")

	st := d.IsReady(context.Background())
	if st.Idle {
		t.Error("capture error must be treated as busy")
	}
	if st.Ready() {
		t.Error("must not be ready on capture error")
	}
}

func TestDetector_InputPendingFreshness(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }

	sig := NewInputSignal()
	sig.now = clock

	cap := &cannedCapture{screen: "❯\n"}
	d := NewDetector(cap, sig, "claude", "❯", WithClock(clock), WithFreshness(30*time.Second))

	sig.Report(true)
	if st := d.IsReady(context.Background()); !st.InputPending || st.Ready() {
		t.Errorf("fresh has_text=true: got %+v", st)
	}

	now = now.Add(29 * time.Second)
	if st := d.IsReady(context.Background()); !st.InputPending {
		t.Error("report 29s old should still count")
	}

	now = now.Add(2 * time.Second)
	if st := d.IsReady(context.Background()); st.InputPending {
		t.Error("report older than freshness window must be ignored")
	}

	sig.Report(false)
	if st := d.IsReady(context.Background()); st.InputPending || !st.Ready() {
		t.Errorf("has_text=false: got %+v", st)
	}
}

func TestInputSignal_NeverReported(t *testing.T) {
	has, at := NewInputSignal().Snapshot()
	if has || !at.IsZero() {
		t.Errorf("Snapshot() = %v, %v; want false, zero", has, at)
	}
}

// blockingCapture waits for its context to end.
type blockingCapture struct{}

func (blockingCapture) Capture(ctx context.Context, target string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDetector_CaptureTimeout(t *testing.T) {
	d := NewDetector(blockingCapture{}, nil, "claude", "❯", WithCaptureTimeout(20*time.Millisecond))

	start := time.Now()
	st := d.IsReady(context.Background())
	if st.Idle {
		t.Error("timed-out capture must be busy")
	}
	if time.Since(start) > time.Second {
		t.Error("capture timeout was not applied")
	}
}
