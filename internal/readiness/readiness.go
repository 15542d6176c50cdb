// Package readiness decides whether the target session will accept a prompt
// right now. It combines two signals: the idle prompt glyph at the bottom of
// the captured pane, and the "user is typing" flag reported by the web UI.
package readiness

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/barff/frankd/internal/logging"
)

const (
	DefaultScanLines      = 8
	DefaultCaptureTimeout = 5 * time.Second
	DefaultFreshness      = 30 * time.Second
)

// State is a readiness snapshot. It is derived on demand and never persisted.
type State struct {
	Idle         bool `json:"idle"`
	InputPending bool `json:"input_pending"`
}

// Ready reports whether a prompt may be injected.
func (s State) Ready() bool {
	return s.Idle && !s.InputPending
}

// Capturer returns the visible text of a terminal surface.
type Capturer interface {
	Capture(ctx context.Context, target string) (string, error)
}

// InputSignal holds the most recent input-pending report from the UI.
type InputSignal struct {
	mu        sync.RWMutex
	hasText   bool
	updatedAt time.Time
	now       func() time.Time
}

// NewInputSignal creates an InputSignal that has never been reported.
func NewInputSignal() *InputSignal {
	return &InputSignal{now: time.Now}
}

// Report records whether the UI currently holds unsent text.
func (s *InputSignal) Report(hasText bool) {
	s.mu.Lock()
	s.hasText = hasText
	s.updatedAt = s.now()
	s.mu.Unlock()
}

// Snapshot returns the last report and when it arrived. A zero time means no
// report has ever been received.
func (s *InputSignal) Snapshot() (hasText bool, updatedAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasText, s.updatedAt
}

// Detector evaluates readiness for one target. It has no side effects and is
// safe for concurrent use.
type Detector struct {
	capturer       Capturer
	signal         *InputSignal
	target         string
	glyph          string
	scanLines      int
	captureTimeout time.Duration
	freshness      time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithScanLines sets how many trailing non-blank lines are inspected.
func WithScanLines(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.scanLines = n
		}
	}
}

// WithCaptureTimeout bounds the capture call.
func WithCaptureTimeout(t time.Duration) Option {
	return func(d *Detector) {
		if t > 0 {
			d.captureTimeout = t
		}
	}
}

// WithFreshness sets how long an input-pending report stays valid.
func WithFreshness(t time.Duration) Option {
	return func(d *Detector) {
		if t > 0 {
			d.freshness = t
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector for target using glyph as the idle marker.
func NewDetector(capturer Capturer, signal *InputSignal, target, glyph string, opts ...Option) *Detector {
	if signal == nil {
		signal = NewInputSignal()
	}
	d := &Detector{
		capturer:       capturer,
		signal:         signal,
		target:         target,
		glyph:          glyph,
		scanLines:      DefaultScanLines,
		captureTimeout: DefaultCaptureTimeout,
		freshness:      DefaultFreshness,
		now:            time.Now,
		logger:         logging.WithComponent("readiness"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Signal returns the input-pending signal the detector reads.
func (d *Detector) Signal() *InputSignal {
	return d.signal
}

// Target returns the session the detector inspects.
func (d *Detector) Target() string {
	return d.target
}

// IsReady computes the current readiness snapshot.
func (d *Detector) IsReady(ctx context.Context) State {
	return State{
		Idle:         d.idle(ctx),
		InputPending: d.inputPending(),
	}
}

// idle fails closed: any capture error counts as busy.
func (d *Detector) idle(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.captureTimeout)
	defer cancel()

	out, err := d.capturer.Capture(ctx, d.target)
	if err != nil {
		d.logger.Debug("capture failed, treating session as busy",
			slog.String("target", d.target),
			slog.Any("error", err),
		)
		return false
	}
	return HasIdlePrompt(out, d.glyph, d.scanLines)
}

// inputPending fails open: a missing or stale report means nobody is typing.
func (d *Detector) inputPending() bool {
	hasText, at := d.signal.Snapshot()
	if at.IsZero() {
		return false
	}
	if d.now().Sub(at) > d.freshness {
		return false
	}
	return hasText
}

// HasIdlePrompt reports whether one of the last n non-blank lines of screen is
// exactly glyph, optionally followed by a single space.
func HasIdlePrompt(screen, glyph string, n int) bool {
	lines := strings.Split(screen, "\n")
	seen := 0
	for i := len(lines) - 1; i >= 0 && seen < n; i-- {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		seen++
		if line == glyph || line == glyph+" " {
			return true
		}
	}
	return false
}
