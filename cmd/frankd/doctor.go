package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barff/frankd/internal/health"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system health and configuration",
		Long: `Run health checks on system dependencies, configuration and pollers.

Shows what's working, what's missing, and how to fix issues.

Examples:
  frankd doctor           # Run all checks
  frankd doctor --verbose # Show suggested fixes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			report := health.RunChecks(cfg, health.SystemEnv())
			out := cmd.OutOrStdout()

			fmt.Fprintln(out)
			fmt.Fprintln(out, "frankd Health Check")
			fmt.Fprintln(out, "===================")
			fmt.Fprintln(out)

			printChecks := func(title string, checks []health.Check) {
				fmt.Fprintln(out, title)
				for _, c := range checks {
					fmt.Fprintf(out, "  %s %-12s %s\n", c.Status.ColorSymbol(), c.Name, c.Message)
					if verbose && c.Fix != "" && c.Status != health.StatusOK {
						fmt.Fprintf(out, "                 → %s\n", c.Fix)
					}
				}
				fmt.Fprintln(out)
			}
			printChecks("System Dependencies:", report.Dependencies)
			printChecks("Configuration:", report.Config)

			fmt.Fprintln(out, "Pollers:")
			for _, f := range report.Features {
				note := ""
				if f.Note != "" {
					note = " (" + f.Note + ")"
				}
				fmt.Fprintf(out, "  %s %-16s%s\n", f.Status.ColorSymbol(), f.Name, note)
			}
			fmt.Fprintln(out)

			errs, warnings := report.Summary()
			switch {
			case errs > 0:
				fmt.Fprintf(out, "%d error(s), %d warning(s)\n", errs, warnings)
				return fmt.Errorf("%d health check(s) failed", errs)
			case warnings > 0:
				fmt.Fprintf(out, "OK with %d warning(s)\n", warnings)
			default:
				fmt.Fprintln(out, "All checks passed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show suggested fixes")

	return cmd
}
