package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/barff/frankd/internal/config"
	"github.com/barff/frankd/internal/health"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage frankd configuration",
		Long: `View, create and validate the frankd configuration.

Configuration File Location:
  Default: ~/.frank/dispatch.yaml
  Override with --config flag (.toml files are read as TOML)

Examples:
  frankd config init                     # Write the defaults
  frankd config show                     # View current config
  frankd config validate                 # Check syntax and settings
  frankd config path                     # Show file location`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
			}

			if err := config.Save(config.DefaultConfig(), configPath); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long: `Display the effective configuration: the file merged over defaults,
with environment references expanded. The API token is masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			maskSecrets(cfg)

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), cfg)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	return cmd
}

// maskSecrets replaces the API token with a fixed placeholder.
func maskSecrets(cfg *config.Config) {
	if cfg.Auth != nil && cfg.Auth.Token != "" {
		auth := *cfg.Auth
		auth.Token = "********"
		cfg.Auth = &auth
	}
}

func newConfigValidateCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long: `Check the configuration file for syntax errors and invalid settings,
then report likely runtime problems as warnings.

Exit Codes:
  0    Configuration is valid
  1    Syntax errors or validation failures`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			if quiet {
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n\n", configPath)
			fmt.Fprintln(out, "Syntax:     OK")
			fmt.Fprintln(out, "Validation: OK")

			warnings := health.RunChecks(cfg, health.SystemEnv()).Warnings()
			if len(warnings) == 0 {
				fmt.Fprintln(out, "\nNo warnings.")
				return nil
			}
			fmt.Fprintln(out, "\nWarnings:")
			for _, w := range warnings {
				fmt.Fprintf(out, "  - %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only report errors")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}
			fmt.Fprintln(cmd.OutOrStdout(), configPath)
			if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(cmd.ErrOrStderr(), "(file does not exist; defaults are used)")
			}
			return nil
		},
	}
}
