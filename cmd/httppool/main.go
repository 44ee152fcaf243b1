// Package main is the entry point for the httppool CLI.
//
// Usage:
//
//	httppool fetch -c config.yaml       # Run the configured requests and exit
//	httppool fetch https://example.com  # Fetch URLs with default settings
//	httppool serve -c config.yaml       # Serve the request API and monitor
//	httppool validate -c config.yaml    # Validate configuration
//	httppool version                    # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/httppool/config"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "httppool",
	Short: "A bounded pool of HTTP/1.1 connections",
	Long: `httppool runs HTTP/1.1 requests over a fixed number of reusable
connections. Requests beyond capacity wait in FIFO order for a free slot.

Quick start:
  httppool fetch https://example.com/
  httppool serve -c httppool.yaml   # then open http://localhost:8080

Example config:
  capacity: 5
  requests:
    - name: homepage
      url: https://example.com/
      output: homepage.html`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this httppool binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "httppool %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates the CLI logger described by cfg.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
