package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/logging"
	"github.com/barff/frankd/internal/scheduler"
)

// DefaultStatusInterval is how often /ws/status pushes without a tick.
const DefaultStatusInterval = 2 * time.Second

// Controller is the dispatch core as seen by the API.
type Controller interface {
	Status(ctx context.Context) scheduler.Status
	PollerStatus(ctx context.Context, name string) (scheduler.PollerStatus, error)
	Start(name string, interval time.Duration) (time.Duration, error)
	Stop(name string) error
	Trigger(name string, interval time.Duration) (time.Duration, error)
	Inject(ctx context.Context, text, target string, autoSubmit bool) error
	ReportInput(hasText bool)
	State() scheduler.StateSummary
	Metrics() scheduler.Metrics
	Subscribe(fn func(name string, r dispatch.Result)) func()
}

// Server exposes the control API, the status stream and metrics over HTTP.
// Server is safe for concurrent use.
type Server struct {
	config         *Config
	authConfig     *AuthConfig
	ctrl           Controller
	sessions       *SessionManager
	upgrader       websocket.Upgrader
	statusInterval time.Duration
	version        string
	server         *http.Server
	logger         *slog.Logger
	mu             sync.RWMutex
	running        bool
}

// Config holds gateway server configuration including network binding options.
type Config struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1" or "0.0.0.0").
	Host string `yaml:"host" toml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port" toml:"port"`
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServerOption is a functional option for configuring Server.
type ServerOption func(*Server)

// WithAuthConfig sets the authentication configuration for the server.
// Without it only loopback clients are accepted.
func WithAuthConfig(auth *AuthConfig) ServerOption {
	return func(s *Server) {
		s.authConfig = auth
	}
}

// WithStatusInterval sets the status stream push interval.
func WithStatusInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.statusInterval = d
		}
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a gateway for ctrl. The server is not started until
// Start is called.
func NewServer(config *Config, ctrl Controller, opts ...ServerOption) *Server {
	s := &Server{
		config:         config,
		ctrl:           ctrl,
		sessions:       NewSessionManager(),
		statusInterval: DefaultStatusInterval,
		logger:         logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkLocalOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkLocalOrigin allows requests without an Origin (CLI tools) and
// localhost origins. External sites cannot connect.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{
		"http://localhost", "http://127.0.0.1",
		"https://localhost", "https://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	auth := NewAuthenticator(s.authConfig)
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth.Middleware(h))
	}

	mux.HandleFunc("GET /health", s.handleHealth)

	protect("GET /api/v1/status", s.handleStatus)
	protect("GET /api/v1/pollers/{name}", s.handlePoller)
	protect("POST /api/v1/pollers/{name}/start", s.handleStart)
	protect("POST /api/v1/pollers/{name}/stop", s.handleStop)
	protect("POST /api/v1/pollers/{name}/trigger", s.handleTrigger)
	protect("POST /api/v1/inject", s.handleInject)
	protect("POST /api/v1/input", s.handleInput)
	protect("GET /api/v1/state", s.handleState)
	protect("GET /ws/status", s.handleStatusWebSocket)
	protect("GET /metrics", s.handleMetrics)

	return mux
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	go s.streamStatus(streamCtx)

	s.logger.Info("Gateway starting", slog.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server with a 30-second timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.running = false
	return s.server.Shutdown(ctx)
}

// Sessions returns the status stream session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}
