// Package logging provides structured logging for frankd using Go's slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

type contextKey string

const (
	pollerKey        contextKey = "poller"
	tickIDKey        contextKey = "tick_id"
	targetKey        contextKey = "target"
	correlationIDKey contextKey = "correlation_id"
)

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex

	// closer holds the file writer opened by Init so it can be released on
	// re-init or shutdown.
	closer io.Closer
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Config holds logging configuration.
type Config struct {
	Level    string          `yaml:"level" toml:"level"`       // debug, info, warn, error
	Format   string          `yaml:"format" toml:"format"`     // json, text, or empty for auto
	Output   string          `yaml:"output" toml:"output"`     // stdout, stderr, or file path
	Rotation *RotationConfig `yaml:"rotation" toml:"rotation"` // only used for file output
}

// RotationConfig holds log rotation settings.
type RotationConfig struct {
	MaxSize    string `yaml:"max_size" toml:"max_size"`       // e.g. "50MB"
	MaxAge     string `yaml:"max_age" toml:"max_age"`         // e.g. "7d"
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // number of rotated files kept
}

// DefaultConfig returns defaults for logging.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Output: "stdout",
	}
}

// Init installs the global logger described by cfg. It is safe to call more
// than once; a previously opened log file is closed.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := parseLevel(cfg.Level)
	writer, err := openWriter(cfg)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if resolveFormat(cfg) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	loggerMu.Lock()
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
	if c, ok := writer.(io.Closer); ok && writer != os.Stdout && writer != os.Stderr {
		closer = c
	}
	defaultLogger = slog.New(handler)
	loggerMu.Unlock()

	slog.SetDefault(Logger())
	return nil
}

// Close releases the log file opened by Init, if any.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// Suppress sends all logging to io.Discard. The watch TUI uses it so log
// lines do not tear the rendered frame.
func Suppress() {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	loggerMu.Lock()
	defaultLogger = discard
	loggerMu.Unlock()

	slog.SetDefault(discard)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveFormat picks the handler format. An explicit format wins; otherwise
// terminals get text and pipes or files get JSON.
func resolveFormat(cfg *Config) string {
	switch cfg.Format {
	case "json", "text":
		return cfg.Format
	}
	switch cfg.Output {
	case "", "stdout":
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return "text"
		}
		return "json"
	case "stderr":
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			return "text"
		}
		return "json"
	default:
		return "json"
	}
}

func openWriter(cfg *Config) (io.Writer, error) {
	switch cfg.Output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return newRotatingWriter(cfg.Output, cfg.Rotation)
	}
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// With returns a logger with additional attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// WithComponent returns a logger with a component attribute.
func WithComponent(component string) *slog.Logger {
	return Logger().With(slog.String("component", component))
}

// WithCorrelationID returns a logger tagged with a correlation id.
func WithCorrelationID(correlationID string) *slog.Logger {
	return Logger().With(slog.String("correlation_id", correlationID))
}

// WithContext returns a logger carrying the log fields stored in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	logger := Logger()

	for _, key := range []contextKey{pollerKey, tickIDKey, targetKey, correlationIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(slog.String(string(key), v))
		}
	}

	return logger
}

// ContextWithPoller adds a poller name to the context.
func ContextWithPoller(ctx context.Context, poller string) context.Context {
	return context.WithValue(ctx, pollerKey, poller)
}

// ContextWithTickID adds a tick id to the context.
func ContextWithTickID(ctx context.Context, tickID string) context.Context {
	return context.WithValue(ctx, tickIDKey, tickID)
}

// ContextWithTarget adds the injection target to the context.
func ContextWithTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, targetKey, target)
}

// ContextWithCorrelationID adds a correlation id to the context.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}
