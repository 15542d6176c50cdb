// Package tmux wraps the tmux subcommands frankd needs to observe and drive
// an interactive session: capture-pane, send-keys, load-buffer and
// paste-buffer. Every call runs as a subprocess with its own timeout.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single tmux invocation.
const DefaultTimeout = 5 * time.Second

var (
	// ErrNoServer means no tmux server is running for this user.
	ErrNoServer = errors.New("no tmux server running")
	// ErrSessionNotFound means the target session or pane does not exist.
	ErrSessionNotFound = errors.New("tmux session not found")
)

// Runner abstracts command execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError carries the stderr of a failed subprocess.
type CommandError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner implements Runner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns its stdout.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &CommandError{Name: name, Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.Bytes(), nil
}

// Client issues tmux commands through a Runner.
type Client struct {
	runner  Runner
	binary  string
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBinary overrides the tmux executable path.
func WithBinary(path string) Option {
	return func(c *Client) { c.binary = path }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		runner:  ExecRunner{},
		binary:  "tmux",
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil {
		return "", classify(err, args)
	}
	return string(out), nil
}

// classify maps tmux stderr onto the package sentinels.
func classify(err error, args []string) error {
	var cmdErr *CommandError
	stderr := ""
	if errors.As(err, &cmdErr) {
		stderr = cmdErr.Stderr
	}

	switch {
	case strings.Contains(stderr, "no server running"),
		strings.Contains(stderr, "error connecting to"),
		strings.Contains(stderr, "server exited unexpectedly"):
		return fmt.Errorf("tmux %s: %w", args[0], ErrNoServer)
	case strings.Contains(stderr, "can't find session"),
		strings.Contains(stderr, "session not found"),
		strings.Contains(stderr, "can't find pane"),
		strings.Contains(stderr, "can't find window"):
		return fmt.Errorf("tmux %s: %w", args[0], ErrSessionNotFound)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// HasSession reports whether target names a live session.
func (c *Client) HasSession(ctx context.Context, target string) (bool, error) {
	_, err := c.run(ctx, "has-session", "-t", sessionOf(target))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return false, nil
	}
	return false, err
}

// Capture returns the visible content of target's active pane.
func (c *Client) Capture(ctx context.Context, target string) (string, error) {
	return c.run(ctx, "capture-pane", "-p", "-J", "-t", target)
}

// Interrupt sends Ctrl-C to target.
func (c *Client) Interrupt(ctx context.Context, target string) error {
	_, err := c.run(ctx, "send-keys", "-t", target, "C-c")
	return err
}

// ClearLine sends Ctrl-U to target, discarding the current input line.
func (c *Client) ClearLine(ctx context.Context, target string) error {
	_, err := c.run(ctx, "send-keys", "-t", target, "C-u")
	return err
}

// LoadBuffer loads the file at path into the named paste buffer. Going
// through a file keeps quotes, newlines and key names literal.
func (c *Client) LoadBuffer(ctx context.Context, buffer, path string) error {
	_, err := c.run(ctx, "load-buffer", "-b", buffer, path)
	return err
}

// PasteBuffer pastes the named buffer into target and deletes the buffer.
func (c *Client) PasteBuffer(ctx context.Context, buffer, target string) error {
	_, err := c.run(ctx, "paste-buffer", "-b", buffer, "-t", target, "-d")
	return err
}

// DeleteBuffer removes a named buffer. A missing buffer is not an error.
func (c *Client) DeleteBuffer(ctx context.Context, buffer string) error {
	_, err := c.run(ctx, "delete-buffer", "-b", buffer)
	if err != nil && strings.Contains(err.Error(), "no buffer") {
		return nil
	}
	return err
}

// Submit sends Enter to target.
func (c *Client) Submit(ctx context.Context, target string) error {
	_, err := c.run(ctx, "send-keys", "-t", target, "Enter")
	return err
}

// sessionOf strips the window and pane suffix from a target.
func sessionOf(target string) string {
	if i := strings.IndexAny(target, ":."); i > 0 {
		return target[:i]
	}
	return target
}
