package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barff/frankd/internal/banner"
	"github.com/barff/frankd/internal/config"
)

var version = "0.1.0"

var (
	cfgFile     string
	gatewayAddr string
	authToken   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "frankd",
		Short: "Dispatch work into an interactive agent session",
		Long: `frankd watches an interactive agent running in tmux and, whenever the
prompt is idle and nobody is typing, injects the next unit of work: a
periodic heartbeat command or a prompt built from labelled issues.

The daemon exposes a local HTTP API. Every other command talks to it.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.frank/dispatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayAddr, "addr", "", "gateway address (default from config)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "API token for api-token auth (default from config)")

	rootCmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newStartCmd(),
		newStopCmd(),
		newTriggerCmd(),
		newInjectCmd(),
		newInputCmd(),
		newStateCmd(),
		newConfigCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show frankd version",
		Run: func(cmd *cobra.Command, args []string) {
			banner.PrintCompact(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig loads the file named by --config or the default path.
func loadConfig() (*config.Config, string, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, configPath, nil
}
