// Package health checks the local environment and configuration before the
// daemon starts dispatching.
package health

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/barff/frankd/internal/config"
	"github.com/barff/frankd/internal/gateway"
	"github.com/barff/frankd/internal/poller"
)

// Status represents feature or dependency status
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a health check result
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// FeatureStatus represents a poller or feature with its availability
type FeatureStatus struct {
	Name    string
	Enabled bool
	Status  Status
	Note    string
}

// Report contains all health check results
type Report struct {
	Dependencies []Check
	Config       []Check
	Features     []FeatureStatus
}

// Env abstracts the process environment for checks.
type Env struct {
	LookPath func(string) (string, error)
	Getenv   func(string) string
	// Version runs "<cmd> <args>" and returns its trimmed output.
	Version func(cmd string, args ...string) (string, error)
}

// SystemEnv returns the real environment.
func SystemEnv() Env {
	return Env{
		LookPath: exec.LookPath,
		Getenv:   os.Getenv,
		Version: func(cmd string, args ...string) (string, error) {
			out, err := exec.Command(cmd, args...).Output()
			return strings.TrimSpace(string(out)), err
		},
	}
}

// RunChecks performs all health checks based on config
func RunChecks(cfg *config.Config, env Env) *Report {
	return &Report{
		Dependencies: checkDependencies(env),
		Config:       checkConfig(cfg, env),
		Features:     checkFeatures(cfg, env),
	}
}

// Summary counts errors and warnings across dependencies and config.
func (r *Report) Summary() (errs, warnings int) {
	for _, c := range append(append([]Check{}, r.Dependencies...), r.Config...) {
		switch c.Status {
		case StatusError:
			errs++
		case StatusWarning:
			warnings++
		}
	}
	for _, f := range r.Features {
		if f.Status == StatusWarning {
			warnings++
		}
	}
	return errs, warnings
}

// Warnings returns one line per non-OK check, for compact output.
func (r *Report) Warnings() []string {
	var out []string
	for _, c := range append(append([]Check{}, r.Dependencies...), r.Config...) {
		if c.Status == StatusWarning || c.Status == StatusError {
			out = append(out, c.Name+": "+c.Message)
		}
	}
	for _, f := range r.Features {
		if f.Status == StatusWarning && f.Note != "" {
			out = append(out, f.Name+": "+f.Note)
		}
	}
	return out
}

func checkDependencies(env Env) []Check {
	var checks []Check

	if version, err := env.Version("tmux", "-V"); err == nil && version != "" {
		checks = append(checks, Check{Name: "tmux", Status: StatusOK, Message: extractVersion(version)})
	} else {
		checks = append(checks, Check{
			Name:    "tmux",
			Status:  StatusError,
			Message: "not found",
			Fix:     "install tmux (brew install tmux / apt install tmux)",
		})
	}

	// The agent CLI only has to exist inside the tmux session, so its
	// absence from this PATH is a hint, not an error.
	if _, err := env.LookPath("claude"); err == nil {
		checks = append(checks, Check{Name: "claude", Status: StatusOK, Message: "installed"})
	} else {
		checks = append(checks, Check{
			Name:    "claude",
			Status:  StatusWarning,
			Message: "not in PATH",
			Fix:     "ensure the agent is running in the target tmux session",
		})
	}

	return checks
}

func checkConfig(cfg *config.Config, env Env) []Check {
	var checks []Check

	if err := cfg.Validate(); err != nil {
		checks = append(checks, Check{
			Name:    "config",
			Status:  StatusError,
			Message: strings.ReplaceAll(err.Error(), "\n", "; "),
			Fix:     "frankd config validate",
		})
	} else {
		checks = append(checks, Check{Name: "config", Status: StatusOK, Message: "valid"})
	}

	switch {
	case cfg.Auth.Type == gateway.AuthTypeNone && !isLoopbackHost(cfg.Gateway.Host):
		checks = append(checks, Check{
			Name:    "auth",
			Status:  StatusWarning,
			Message: fmt.Sprintf("auth is disabled and the gateway listens on %s", cfg.Gateway.Host),
			Fix:     "set auth.type to api-token or bind to 127.0.0.1",
		})
	default:
		checks = append(checks, Check{Name: "auth", Status: StatusOK, Message: string(cfg.Auth.Type)})
	}

	return checks
}

func checkFeatures(cfg *config.Config, env Env) []FeatureStatus {
	var features []FeatureStatus

	hb := FeatureStatus{Name: "Heartbeat", Enabled: cfg.Heartbeat.Enabled, Status: StatusDisabled}
	if hb.Enabled {
		creds := poller.CredentialSource{
			KeyEnv: cfg.Heartbeat.APIKeyEnv,
			URLEnv: cfg.Heartbeat.APIURLEnv,
			File:   cfg.Heartbeat.CredentialsFile,
			Getenv: env.Getenv,
		}
		_, ok, err := creds.Load()
		switch {
		case err != nil:
			hb.Status = StatusWarning
			hb.Note = "credentials unreadable: " + err.Error()
		case !ok:
			hb.Status = StatusWarning
			hb.Note = fmt.Sprintf("neither $%s nor %s is set", cfg.Heartbeat.APIKeyEnv, cfg.Heartbeat.CredentialsFile)
		default:
			hb.Status = StatusOK
		}
	}
	features = append(features, hb)

	is := FeatureStatus{Name: "Issues", Enabled: cfg.Issues.Enabled, Status: StatusDisabled}
	if is.Enabled {
		switch {
		case len(cfg.Issues.Labels) == 0:
			is.Status = StatusWarning
			is.Note = "no labels configured"
		case len(cfg.Issues.Repos) == 0 && len(cfg.Issues.Owners) == 0:
			is.Status = StatusWarning
			is.Note = "no repos or owners configured"
		case cfg.Issues.TokenEnv != "" && env.Getenv(cfg.Issues.TokenEnv) == "":
			is.Status = StatusWarning
			is.Note = fmt.Sprintf("$%s is not set; search is unauthenticated", cfg.Issues.TokenEnv)
		default:
			is.Status = StatusOK
		}
	}
	features = append(features, is)

	backend := FeatureStatus{Name: "State (" + cfg.State.Backend + ")", Enabled: true, Status: StatusOK}
	if _, err := os.Stat(cfg.State.Path); errors.Is(err, os.ErrNotExist) {
		backend.Note = "no state yet"
	}
	features = append(features, backend)

	return features
}

func isLoopbackHost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// extractVersion picks the first dotted field, e.g. "tmux 3.4" -> "3.4".
func extractVersion(version string) string {
	for _, p := range strings.Fields(version) {
		if strings.Contains(p, ".") {
			return p
		}
	}
	return version
}

// Symbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

// String returns a lowercase name for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

var symbolStyles = map[Status]lipgloss.Style{
	StatusOK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#7ec699")),
	StatusWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#d4a054")),
	StatusError:    lipgloss.NewStyle().Foreground(lipgloss.Color("#d48a8a")),
	StatusDisabled: lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
}

// ColorSymbol returns Symbol styled for the terminal.
func (s Status) ColorSymbol() string {
	if style, ok := symbolStyles[s]; ok {
		return style.Render(s.Symbol())
	}
	return s.Symbol()
}
