package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/barff/frankd/internal/dashboard"
	"github.com/barff/frankd/internal/gateway"
	"github.com/barff/frankd/internal/logging"
	"github.com/barff/frankd/internal/scheduler"
)

const requestTimeout = 30 * time.Second

// newGatewayClient resolves the gateway address and token from flags, then
// from the config file.
func newGatewayClient() (*gateway.Client, error) {
	addr, token := gatewayAddr, authToken
	if addr == "" || token == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Gateway.Addr()
		}
		if token == "" && cfg.Auth != nil && cfg.Auth.Type == gateway.AuthTypeAPIToken {
			token = cfg.Auth.Token
		}
	}
	return gateway.NewClient(baseURL(addr), token), nil
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session readiness and poller status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			st, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), st)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.RenderStatus(st, time.Now(), -1))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// watchSource adapts the gateway client to the watch view.
type watchSource struct {
	client *gateway.Client
}

func (s watchSource) Status(ctx context.Context) (scheduler.Status, error) {
	return s.client.Status(ctx)
}

func (s watchSource) Trigger(ctx context.Context, name string) error {
	_, err := s.client.Trigger(ctx, name, 0)
	return err
}

func (s watchSource) Start(ctx context.Context, name string, interval time.Duration) error {
	_, err := s.client.Start(ctx, name, interval)
	return err
}

func (s watchSource) Stop(ctx context.Context, name string) error {
	_, err := s.client.Stop(ctx, name)
	return err
}

func newWatchCmd() *cobra.Command {
	var refresh time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live status view",
		Long: `Open a live terminal view of the daemon.

Keys:
  j/k      select a poller
  t        trigger the selected poller now
  s        start or stop the selected poller
  r        refresh
  q        quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}

			logging.Suppress()

			model := dashboard.NewModel(watchSource{client: client}, version, refresh)
			program := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithInput(os.Stdin),
				tea.WithOutput(os.Stdout),
			)
			_, err = program.Run()
			return err
		},
	}

	cmd.Flags().DurationVar(&refresh, "refresh", dashboard.DefaultRefresh, "Refresh interval")

	return cmd
}

func newStartCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "start <poller>",
		Short: "Start a poller",
		Long: `Start the named poller (heartbeat or issues).

Without --interval the configured interval or cron schedule is used.
Intervals outside the configured limits are clamped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interval") && interval <= 0 {
				return errors.New("--interval must be positive")
			}
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			resp, err := client.Start(ctx, args[0], interval)
			if err != nil {
				return err
			}
			if resp.Interval != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "started %s every %s\n", args[0], resp.Interval)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "started %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Tick interval (e.g. 5m)")

	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <poller>",
		Short: "Stop a poller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			resp, err := client.Stop(ctx, args[0])
			if err != nil {
				return err
			}
			if resp.Status == "stop_requested" {
				fmt.Fprintf(cmd.OutOrStdout(), "stop requested for %s; a tick is still running\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", args[0])
			return nil
		},
	}
}

func newTriggerCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "trigger <poller>",
		Short: "Run one tick of a poller now",
		Long: `Run one tick of the named poller now, outside its schedule.

With --interval the poller is also restarted on that interval, clamped
to the configured limits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interval") && interval <= 0 {
				return errors.New("--interval must be positive")
			}
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			resp, err := client.Trigger(ctx, args[0], interval)
			if err != nil {
				return err
			}
			if resp.Interval != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "triggered %s, next every %s\n", args[0], resp.Interval)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "triggered %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Restart the poller on this interval (e.g. 5m)")

	return cmd
}

func newInjectCmd() *cobra.Command {
	var (
		target   string
		noSubmit bool
	)

	cmd := &cobra.Command{
		Use:   "inject <text>",
		Short: "Send text to the session",
		Long: `Send text to the agent session through the shared injector.

The text is pasted as one block. Use "-" to read it from stdin.
Unless --no-submit is given, Enter is pressed afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}

			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			submit := !noSubmit
			if err := client.Inject(ctx, gateway.InjectRequest{
				Text:       text,
				Target:     target,
				AutoSubmit: &submit,
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "injected")
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "tmux target (default: the poller target)")
	cmd.Flags().BoolVar(&noSubmit, "no-submit", false, "Paste without pressing Enter")

	return cmd
}

func newInputCmd() *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "input",
		Short: "Report whether the user is typing",
		Long: `Report the input-pending signal. Editors and UIs call this while the
user has unsent text so pollers hold back. Reports expire after the
configured freshness window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			return client.ReportInput(ctx, pending)
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "The input box holds unsent text")

	return cmd
}
