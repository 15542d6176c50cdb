package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/barff/frankd/internal/banner"
	"github.com/barff/frankd/internal/config"
	"github.com/barff/frankd/internal/gateway"
	"github.com/barff/frankd/internal/health"
	"github.com/barff/frankd/internal/injector"
	"github.com/barff/frankd/internal/logging"
	"github.com/barff/frankd/internal/poller"
	"github.com/barff/frankd/internal/readiness"
	"github.com/barff/frankd/internal/scheduler"
	"github.com/barff/frankd/internal/state"
	"github.com/barff/frankd/internal/tmux"
	"github.com/barff/frankd/internal/tracker"
)

func newServeCmd() *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch daemon",
		Long: `Run the dispatch daemon in the foreground.

Starts the gateway API, restores dispatch state and starts every poller
marked enabled in the config. Pollers can be started, stopped and
triggered at runtime through the API.

The config file is watched for changes: issue labels, routes and the
injection allow-list are applied without a restart.

Stop with Ctrl+C or SIGTERM; state is flushed before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			defer func() { _ = logging.Close() }()

			d, err := newDaemon(cfg)
			if err != nil {
				return err
			}
			defer d.close()

			if isatty.IsTerminal(os.Stdout.Fd()) {
				banner.Startup(os.Stdout, banner.Info{
					Version: version,
					Gateway: baseURL(cfg.Gateway.Addr()),
					Target:  cfg.Session.Target,
				}, health.RunChecks(cfg, health.SystemEnv()))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if noWatch {
				configPath = ""
			}
			return d.run(ctx, configPath)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file on change")

	return cmd
}

// daemon is the wired process: one session, one injector, two pollers.
type daemon struct {
	// target is the session the pollers were built against.
	target   string
	store    state.Store
	signal   *readiness.InputSignal
	injector *injector.Injector
	sched    *scheduler.Scheduler
	server   *gateway.Server
	logger   *slog.Logger
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	logger := logging.WithComponent("daemon")

	store, err := state.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	ledger := state.NewLedger(store)
	if err := ledger.Load(); err != nil {
		// Dispatch keeps working from an empty ledger; it is rewritten on
		// the next successful dispatch.
		logger.Warn("failed to load dispatch state, starting empty", slog.Any("error", err))
	}

	sess := cfg.Session
	tc := tmux.New(tmux.WithTimeout(sess.CommandTimeout.Std()))
	signalState := readiness.NewInputSignal()
	detector := readiness.NewDetector(tc, signalState, sess.Target, sess.IdleGlyph,
		readiness.WithScanLines(sess.ScanLines),
		readiness.WithCaptureTimeout(sess.CaptureTimeout.Std()),
		readiness.WithFreshness(sess.InputFreshness.Std()),
	)
	inj := injector.New(tc,
		injector.WithAllowedTargets(cfg.AllowedTargets()...),
		injector.WithSettle(sess.InterruptSettle.Std(), sess.SubmitSettle.Std()),
	)

	hb := cfg.Heartbeat
	heartbeat := poller.NewHeartbeat(hb.Command, sess.Target, poller.CredentialSource{
		KeyEnv: hb.APIKeyEnv,
		URLEnv: hb.APIURLEnv,
		File:   hb.CredentialsFile,
	}, detector, inj)

	ic := cfg.Issues
	search := tracker.NewClient(os.Getenv(ic.TokenEnv),
		tracker.WithBaseURL(ic.APIURL),
		tracker.WithRepos(ic.Repos...),
		tracker.WithOwners(ic.Owners...),
	)
	issues := poller.NewIssues(poller.IssuesConfig{
		Target:       sess.Target,
		Labels:       ic.Labels,
		Limit:        ic.Limit,
		QueryTimeout: ic.QueryTimeout.Std(),
		BackoffBase:  ic.BackoffBase.Std(),
		BackoffMax:   ic.BackoffMax.Std(),
		Router:       routerFromConfig(ic),
	}, search, ledger, detector, inj)

	sched := scheduler.New(scheduler.Config{
		Target: sess.Target,
		Heartbeat: scheduler.PollerConfig{
			Enabled:  hb.Enabled,
			Interval: hb.Interval.Std(),
			Schedule: hb.Schedule,
		},
		Issues: scheduler.PollerConfig{
			Enabled:  ic.Enabled,
			Interval: ic.Interval.Std(),
			Schedule: ic.Schedule,
		},
		MinInterval: cfg.Limits.MinInterval.Std(),
		MaxInterval: cfg.Limits.MaxInterval.Std(),
	}, scheduler.Components{
		Readiness: detector,
		Signal:    signalState,
		Injector:  inj,
		Ledger:    ledger,
		Heartbeat: heartbeat,
		Issues:    issues,
	})

	server := gateway.NewServer(cfg.Gateway, sched,
		gateway.WithAuthConfig(cfg.Auth),
		gateway.WithVersion(version),
	)

	return &daemon{
		target:   sess.Target,
		store:    store,
		signal:   signalState,
		injector: inj,
		sched:    sched,
		server:   server,
		logger:   logger,
	}, nil
}

// routerFromConfig builds the issue router from the issues section.
func routerFromConfig(ic *config.IssuesConfig) poller.Router {
	r := poller.DefaultRouter()
	if ic.LabelSeparator != "" {
		r.Separator = ic.LabelSeparator
	}
	if ic.BatchType != "" {
		r.BatchType = ic.BatchType
	}
	if ic.BatchCommand != "" {
		r.BatchCommand = ic.BatchCommand
	}
	if ic.Routes != nil {
		r.Routes = make(map[string]string, len(ic.Routes))
		for k, v := range ic.Routes {
			r.Routes[k] = v
		}
	}
	if ic.BodyLimit > 0 {
		r.BodyLimit = ic.BodyLimit
	}
	return r
}

// applyConfig pushes the hot-reloadable parts of cfg into the running daemon.
// The pollers keep injecting into the target they were built with, so that
// target stays on the allow-list until restart.
func (d *daemon) applyConfig(cfg *config.Config) {
	d.sched.SetIssueConfig(cfg.Issues.Labels, routerFromConfig(cfg.Issues))

	targets := cfg.AllowedTargets()
	if !slices.Contains(targets, d.target) {
		targets = append(targets, d.target)
	}
	if cfg.Session != nil && cfg.Session.Target != d.target {
		d.logger.Warn("session.target changed, restart to move the pollers",
			slog.String("running", d.target),
			slog.String("configured", cfg.Session.Target),
		)
	}
	d.injector.SetAllowedTargets(targets)

	d.logger.Info("applied config",
		slog.Any("labels", cfg.Issues.Labels),
		slog.Any("allowed_targets", targets),
	)
}

// run starts enabled pollers and serves until ctx is done. A non-empty
// configPath is watched for changes.
func (d *daemon) run(ctx context.Context, configPath string) error {
	if err := d.sched.Autostart(); err != nil {
		d.logger.Warn("some pollers failed to start", slog.Any("error", err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Start(ctx)
	})
	if configPath != "" {
		g.Go(func() error {
			if err := config.Watch(ctx, configPath, d.applyConfig); err != nil {
				d.logger.Warn("config reload disabled", slog.Any("error", err))
			}
			return nil
		})
	}

	err := g.Wait()
	d.logger.Info("shutting down")
	if serr := d.sched.Shutdown(); serr != nil {
		d.logger.Warn("scheduler shutdown incomplete", slog.Any("error", serr))
	}
	return err
}

func (d *daemon) close() {
	if err := d.store.Close(); err != nil {
		d.logger.Warn("failed to close state store", slog.Any("error", err))
	}
}
