package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/barff/frankd/internal/dashboard"
	"github.com/barff/frankd/internal/scheduler"
	"github.com/barff/frankd/internal/state"
)

func newStateCmd() *cobra.Command {
	var (
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show processed issues and query backoff",
		Long: `Show the dispatch ledger: which issues were dispatched and whether
tracker queries are backing off.

By default the running daemon is asked. With --offline the state store
named in the config is read directly, which works while the daemon is
down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sum scheduler.StateSummary
				err error
			)
			if offline {
				sum, err = readStateOffline()
			} else {
				sum, err = readStateOnline(cmd.Context())
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.RenderState(sum, time.Now()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Read the state store instead of asking the daemon")

	return cmd
}

func readStateOnline(ctx context.Context) (scheduler.StateSummary, error) {
	client, err := newGatewayClient()
	if err != nil {
		return scheduler.StateSummary{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	sum, err := client.State(ctx)
	if err != nil {
		return scheduler.StateSummary{}, fmt.Errorf("failed to fetch state: %w", err)
	}
	return sum, nil
}

func readStateOffline() (scheduler.StateSummary, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return scheduler.StateSummary{}, err
	}

	store, err := state.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return scheduler.StateSummary{}, fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	snap, err := store.Load()
	if err != nil {
		return scheduler.StateSummary{}, fmt.Errorf("failed to read state: %w", err)
	}
	return scheduler.Summarize(snap, time.Now()), nil
}
