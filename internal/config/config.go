package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/barff/frankd/internal/gateway"
	"github.com/barff/frankd/internal/logging"
	"github.com/barff/frankd/internal/state"
	"github.com/barff/frankd/internal/tracker"
)

// State store backends.
const (
	BackendFile   = state.BackendFile
	BackendSQLite = state.BackendSQLite
)

// Config represents the main configuration
type Config struct {
	Version   string              `yaml:"version" toml:"version"`
	Gateway   *gateway.Config     `yaml:"gateway" toml:"gateway"`
	Auth      *gateway.AuthConfig `yaml:"auth" toml:"auth"`
	Session   *SessionConfig      `yaml:"session" toml:"session"`
	Heartbeat *HeartbeatConfig    `yaml:"heartbeat" toml:"heartbeat"`
	Issues    *IssuesConfig       `yaml:"issues" toml:"issues"`
	State     *StateConfig        `yaml:"state" toml:"state"`
	Limits    *LimitsConfig       `yaml:"limits" toml:"limits"`
	Logging   *logging.Config     `yaml:"logging" toml:"logging"`
}

// SessionConfig describes the interactive tmux session that receives prompts.
type SessionConfig struct {
	// Target is the tmux target (session, session:window or pane id) pollers inject into.
	Target string `yaml:"target" toml:"target"`
	// AllowedTargets restricts manual injection. Target is always allowed.
	AllowedTargets []string `yaml:"allowed_targets" toml:"allowed_targets"`
	// IdleGlyph is the prompt character shown when the session waits for input.
	IdleGlyph string `yaml:"idle_glyph" toml:"idle_glyph"`
	// ScanLines is how many trailing non-blank lines are searched for IdleGlyph.
	ScanLines       int      `yaml:"scan_lines" toml:"scan_lines"`
	CaptureTimeout  Duration `yaml:"capture_timeout" toml:"capture_timeout"`
	CommandTimeout  Duration `yaml:"command_timeout" toml:"command_timeout"`
	InputFreshness  Duration `yaml:"input_freshness" toml:"input_freshness"`
	InterruptSettle Duration `yaml:"interrupt_settle" toml:"interrupt_settle"`
	SubmitSettle    Duration `yaml:"submit_settle" toml:"submit_settle"`
}

// HeartbeatConfig configures the fixed-command poller.
type HeartbeatConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Interval Duration `yaml:"interval" toml:"interval"`
	// Schedule is an optional cron expression used instead of Interval.
	Schedule        string `yaml:"schedule" toml:"schedule"`
	Command         string `yaml:"command" toml:"command"`
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
	APIKeyEnv       string `yaml:"api_key_env" toml:"api_key_env"`
	APIURLEnv       string `yaml:"api_url_env" toml:"api_url_env"`
}

// IssuesConfig configures the issue-queue poller.
type IssuesConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Interval Duration `yaml:"interval" toml:"interval"`
	Schedule string   `yaml:"schedule" toml:"schedule"`
	Labels   []string `yaml:"labels" toml:"labels"`
	// Repos ("owner/repo") and Owners bound the search. At least one is
	// required when the poller is enabled.
	Repos        []string `yaml:"repos" toml:"repos"`
	Owners       []string `yaml:"owners" toml:"owners"`
	Limit        int      `yaml:"limit" toml:"limit"`
	QueryTimeout Duration `yaml:"query_timeout" toml:"query_timeout"`
	BackoffBase  Duration `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMax   Duration `yaml:"backoff_max" toml:"backoff_max"`
	// BodyLimit is the number of body characters kept in a routed prompt.
	BodyLimit int `yaml:"body_limit" toml:"body_limit"`
	// LabelSeparator splits a label into prefix and task type ("frank:fix").
	LabelSeparator string `yaml:"label_separator" toml:"label_separator"`
	BatchType      string `yaml:"batch_type" toml:"batch_type"`
	BatchCommand   string `yaml:"batch_command" toml:"batch_command"`
	// Routes maps a task type to the slash command that handles it.
	Routes   map[string]string `yaml:"routes" toml:"routes"`
	TokenEnv string            `yaml:"token_env" toml:"token_env"`
	APIURL   string            `yaml:"api_url" toml:"api_url"`
}

// StateConfig selects where dispatch state is persisted.
type StateConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// LimitsConfig bounds interval overrides accepted from the API.
type LimitsConfig struct {
	MinInterval Duration `yaml:"min_interval" toml:"min_interval"`
	MaxInterval Duration `yaml:"max_interval" toml:"max_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Gateway: &gateway.Config{
			Host: "127.0.0.1",
			Port: 7683,
		},
		Auth: &gateway.AuthConfig{
			Type: gateway.AuthTypeLocal,
		},
		Session: &SessionConfig{
			Target:          "claude",
			AllowedTargets:  []string{"claude"},
			IdleGlyph:       "❯",
			ScanLines:       8,
			CaptureTimeout:  Duration(5 * time.Second),
			CommandTimeout:  Duration(5 * time.Second),
			InputFreshness:  Duration(30 * time.Second),
			InterruptSettle: Duration(300 * time.Millisecond),
			SubmitSettle:    Duration(500 * time.Millisecond),
		},
		Heartbeat: &HeartbeatConfig{
			Interval:        Duration(30 * time.Minute),
			Command:         "/heartbeat",
			CredentialsFile: filepath.Join(homeDir, ".config", "frank", "heartbeat.json"),
			APIKeyEnv:       "FRANK_HEARTBEAT_API_KEY",
			APIURLEnv:       "FRANK_HEARTBEAT_API_URL",
		},
		Issues: &IssuesConfig{
			Interval:       Duration(5 * time.Minute),
			Labels:         []string{"frank:build", "frank:fix", "frank:review"},
			Limit:          20,
			QueryTimeout:   Duration(30 * time.Second),
			BackoffBase:    Duration(time.Minute),
			BackoffMax:     Duration(30 * time.Minute),
			BodyLimit:      4000,
			LabelSeparator: ":",
			BatchType:      "build",
			BatchCommand:   "/build-issues",
			Routes: map[string]string{
				"fix":    "/fix-issue",
				"review": "/review-issue",
				"docs":   "/docs-issue",
			},
			TokenEnv: "GITHUB_TOKEN",
			APIURL:   "https://api.github.com",
		},
		State: &StateConfig{
			Backend: BackendFile,
			Path:    filepath.Join(homeDir, ".frank", "dispatch-state.json"),
		},
		Limits: &LimitsConfig{
			MinInterval: Duration(10 * time.Second),
			MaxInterval: Duration(24 * time.Hour),
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(expanded, config)
	} else {
		err = yaml.Unmarshal(expanded, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.fillDefaults()

	if config.Heartbeat != nil {
		config.Heartbeat.CredentialsFile = expandPath(config.Heartbeat.CredentialsFile)
	}
	if config.State != nil {
		config.State.Path = expandPath(config.State.Path)
	}
	if config.Logging != nil && config.Logging.Output != "stdout" && config.Logging.Output != "stderr" {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	return config, nil
}

// fillDefaults restores sections a file explicitly nulled out.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Gateway == nil {
		c.Gateway = def.Gateway
	}
	if c.Auth == nil {
		c.Auth = def.Auth
	}
	if c.Session == nil {
		c.Session = def.Session
	}
	if c.Heartbeat == nil {
		c.Heartbeat = def.Heartbeat
	}
	if c.Issues == nil {
		c.Issues = def.Issues
	}
	if c.State == nil {
		c.State = def.State
	}
	if c.Limits == nil {
		c.Limits = def.Limits
	}
	if c.Logging == nil {
		c.Logging = def.Logging
	}
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(config)
	} else {
		data, err = yaml.Marshal(config)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".frank", "dispatch.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Gateway == nil {
		errs = append(errs, errors.New("gateway configuration is required"))
	} else if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid gateway port: %d", c.Gateway.Port))
	}
	if c.Auth != nil {
		switch c.Auth.Type {
		case gateway.AuthTypeLocal, gateway.AuthTypeNone:
		case gateway.AuthTypeAPIToken:
			if c.Auth.Token == "" {
				errs = append(errs, errors.New("auth token is required when auth type is api-token"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown auth type %q", c.Auth.Type))
		}
	}

	if s := c.Session; s != nil {
		if s.Target == "" {
			errs = append(errs, errors.New("session.target is required"))
		} else if len(s.AllowedTargets) > 0 && !slices.Contains(s.AllowedTargets, s.Target) {
			errs = append(errs, fmt.Errorf("session.target %q is not in session.allowed_targets", s.Target))
		}
		if s.IdleGlyph == "" {
			errs = append(errs, errors.New("session.idle_glyph is required"))
		}
		if s.ScanLines <= 0 {
			errs = append(errs, fmt.Errorf("session.scan_lines must be positive, got %d", s.ScanLines))
		}
	}

	if h := c.Heartbeat; h != nil {
		if h.Interval <= 0 && h.Schedule == "" {
			errs = append(errs, errors.New("heartbeat.interval must be positive"))
		}
		if h.Command == "" {
			errs = append(errs, errors.New("heartbeat.command is required"))
		}
	}

	if i := c.Issues; i != nil {
		if i.Interval <= 0 && i.Schedule == "" {
			errs = append(errs, errors.New("issues.interval must be positive"))
		}
		if i.Limit <= 0 {
			errs = append(errs, fmt.Errorf("issues.limit must be positive, got %d", i.Limit))
		}
		if i.BackoffBase <= 0 {
			errs = append(errs, errors.New("issues.backoff_base must be positive"))
		}
		if i.BackoffMax < i.BackoffBase {
			errs = append(errs, fmt.Errorf("issues.backoff_max (%s) is below backoff_base (%s)", i.BackoffMax, i.BackoffBase))
		}
		if i.Enabled && len(i.Repos) == 0 && len(i.Owners) == 0 {
			errs = append(errs, errors.New("issues.repos or issues.owners is required when issues are enabled"))
		}
		for _, r := range i.Repos {
			if err := tracker.ValidateRepo(r); err != nil {
				errs = append(errs, fmt.Errorf("issues.repos: %w", err))
			}
		}
		for _, o := range i.Owners {
			if err := tracker.ValidateOwner(o); err != nil {
				errs = append(errs, fmt.Errorf("issues.owners: %w", err))
			}
		}
		for _, l := range i.Labels {
			if err := tracker.ValidateLabel(l); err != nil {
				errs = append(errs, fmt.Errorf("issues.labels: %w", err))
			}
		}
		if i.BatchType != "" && i.BatchCommand == "" {
			errs = append(errs, errors.New("issues.batch_command is required when batch_type is set"))
		}
	}

	if st := c.State; st != nil {
		switch st.Backend {
		case BackendFile, BackendSQLite:
		default:
			errs = append(errs, fmt.Errorf("unknown state backend %q", st.Backend))
		}
		if st.Path == "" {
			errs = append(errs, errors.New("state.path is required"))
		}
	}

	if l := c.Limits; l != nil && l.MinInterval > l.MaxInterval {
		errs = append(errs, fmt.Errorf("limits.min_interval (%s) exceeds max_interval (%s)", l.MinInterval, l.MaxInterval))
	}

	return errors.Join(errs...)
}

// AllowedTargets returns the manual-injection allow-list, always including
// the poller target.
func (c *Config) AllowedTargets() []string {
	if c.Session == nil {
		return nil
	}
	out := slices.Clone(c.Session.AllowedTargets)
	if c.Session.Target != "" && !slices.Contains(out, c.Session.Target) {
		out = append(out, c.Session.Target)
	}
	return out
}
