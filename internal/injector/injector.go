// Package injector delivers prompt text into the target tmux session.
//
// A single Injector is shared by every poller and by manual injection. Its
// lock covers the whole interrupt, clear, paste, submit sequence so two
// callers can never interleave keystrokes in the same input line.
package injector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barff/frankd/internal/logging"
)

const (
	DefaultInterruptSettle = 300 * time.Millisecond
	DefaultSubmitSettle    = 500 * time.Millisecond
)

// ErrTargetNotAllowed is returned when the target is outside the allow-list.
var ErrTargetNotAllowed = errors.New("target not allowed")

// Step names one stage of an injection.
type Step string

const (
	StepInterrupt Step = "interrupt"
	StepClearLine Step = "clear_line"
	StepLoad      Step = "load_buffer"
	StepPaste     Step = "paste"
	StepSubmit    Step = "submit"
)

// InjectError reports which step of an injection failed.
type InjectError struct {
	Step   Step
	Target string
	Err    error
}

func (e *InjectError) Error() string {
	return fmt.Sprintf("inject into %s: %s: %v", e.Target, e.Step, e.Err)
}

func (e *InjectError) Unwrap() error { return e.Err }

// Session is the input channel of a terminal multiplexer.
type Session interface {
	Interrupt(ctx context.Context, target string) error
	ClearLine(ctx context.Context, target string) error
	LoadBuffer(ctx context.Context, buffer, path string) error
	PasteBuffer(ctx context.Context, buffer, target string) error
	DeleteBuffer(ctx context.Context, buffer string) error
	Submit(ctx context.Context, target string) error
}

// Injector serializes all writes to the target session's input stream.
type Injector struct {
	session         Session
	allowedMu       sync.RWMutex
	allowed         []string
	interruptSettle time.Duration
	submitSettle    time.Duration
	tempDir         string
	sleep           func(context.Context, time.Duration) error
	logger          *slog.Logger

	// sem is a one-slot semaphore; acquiring it honors ctx cancellation.
	sem chan struct{}
}

// Option configures an Injector.
type Option func(*Injector)

// WithAllowedTargets restricts Inject to the given targets. An empty list
// allows any target.
func WithAllowedTargets(targets ...string) Option {
	return func(i *Injector) { i.allowed = slices.Clone(targets) }
}

// WithSettle overrides the delays after the interrupt and before submit.
func WithSettle(interrupt, submit time.Duration) Option {
	return func(i *Injector) {
		i.interruptSettle = interrupt
		i.submitSettle = submit
	}
}

// WithTempDir sets where payload files are written before loading.
func WithTempDir(dir string) Option {
	return func(i *Injector) { i.tempDir = dir }
}

// WithSleeper replaces the settle delay implementation.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(i *Injector) { i.sleep = sleep }
}

// New creates an Injector writing through session.
func New(session Session, opts ...Option) *Injector {
	i := &Injector{
		session:         session,
		interruptSettle: DefaultInterruptSettle,
		submitSettle:    DefaultSubmitSettle,
		sleep:           sleepCtx,
		logger:          logging.WithComponent("injector"),
		sem:             make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Allowed reports whether target may receive manual injections.
func (i *Injector) Allowed(target string) bool {
	i.allowedMu.RLock()
	defer i.allowedMu.RUnlock()
	return len(i.allowed) == 0 || slices.Contains(i.allowed, target)
}

// SetAllowedTargets replaces the allow-list.
func (i *Injector) SetAllowedTargets(targets []string) {
	i.allowedMu.Lock()
	i.allowed = slices.Clone(targets)
	i.allowedMu.Unlock()
}

// Inject clears the target's input line, pastes text and optionally submits
// it. It blocks until no other injection is in flight or ctx is done.
func (i *Injector) Inject(ctx context.Context, text, target string, autoSubmit bool) error {
	select {
	case i.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for injection lock: %w", ctx.Err())
	}
	defer i.release()

	if !i.Allowed(target) {
		return fmt.Errorf("%w: %q", ErrTargetNotAllowed, target)
	}

	log := logging.WithContext(ctx).With(slog.String("component", "injector"), slog.String("target", target))
	start := time.Now()

	if err := i.session.Interrupt(ctx, target); err != nil {
		return &InjectError{Step: StepInterrupt, Target: target, Err: err}
	}
	if err := i.sleep(ctx, i.interruptSettle); err != nil {
		return &InjectError{Step: StepInterrupt, Target: target, Err: err}
	}

	if err := i.session.ClearLine(ctx, target); err != nil {
		return &InjectError{Step: StepClearLine, Target: target, Err: err}
	}

	if err := i.paste(ctx, text, target); err != nil {
		return err
	}

	if autoSubmit {
		if err := i.sleep(ctx, i.submitSettle); err != nil {
			return &InjectError{Step: StepSubmit, Target: target, Err: err}
		}
		if err := i.session.Submit(ctx, target); err != nil {
			return &InjectError{Step: StepSubmit, Target: target, Err: err}
		}
	}

	log.Info("Prompt injected",
		slog.Int("bytes", len(text)),
		slog.Bool("submitted", autoSubmit),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// paste writes text to a temp file, loads it into a uniquely named buffer and
// pastes that buffer into target. The file is always removed; the buffer is
// deleted by the paste itself, or explicitly when the paste fails.
func (i *Injector) paste(ctx context.Context, text, target string) error {
	f, err := os.CreateTemp(i.tempDir, "frank-prompt-*.txt")
	if err != nil {
		return &InjectError{Step: StepLoad, Target: target, Err: err}
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return &InjectError{Step: StepLoad, Target: target, Err: err}
	}
	if err := f.Close(); err != nil {
		return &InjectError{Step: StepLoad, Target: target, Err: err}
	}

	buffer := "frank-" + uuid.NewString()
	if err := i.session.LoadBuffer(ctx, buffer, path); err != nil {
		return &InjectError{Step: StepLoad, Target: target, Err: err}
	}
	if err := i.session.PasteBuffer(ctx, buffer, target); err != nil {
		if derr := i.session.DeleteBuffer(context.WithoutCancel(ctx), buffer); derr != nil {
			i.logger.Debug("failed to delete paste buffer", slog.String("buffer", buffer), slog.Any("error", derr))
		}
		return &InjectError{Step: StepPaste, Target: target, Err: err}
	}
	return nil
}

func (i *Injector) release() { <-i.sem }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
