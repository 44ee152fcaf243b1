package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/httppool/config"
)

// validateCmd validates a config file without running any request.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an httppool configuration file without running any request.

This command parses the YAML, expands environment variables, validates all
fields and expands grids. It's useful for CI/CD pipelines or pre-deployment
checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  httppool validate -c config.yaml
  httppool validate --config /etc/httppool/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// grid templates are only executed when requests are built
	jobs, err := config.BuildRequests(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	direct := len(cfg.Requests)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Capacity:      %d\n", cfg.Capacity)
	fmt.Fprintf(out, "  Tick interval: %s\n", cfg.TickInterval.Duration())
	fmt.Fprintf(out, "  Listen:        %s\n", cfg.Listen)
	fmt.Fprintf(out, "  Requests:      %d direct + %d from grids = %d total\n",
		direct, len(jobs)-direct, len(jobs))

	return nil
}
