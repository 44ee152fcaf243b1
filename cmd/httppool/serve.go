package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/httppool"
	"github.com/jpalmerr/httppool/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd starts the request API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the request API server",
	Long: `Start the httppool API server.

The server will:
  - Load configuration from the specified YAML file
  - Submit every configured request to the pool
  - Accept further requests on POST /api/requests
  - Serve request records, pool stats and the monitor page on the listen address

The server runs until interrupted (Ctrl+C) or receives SIGTERM. Requests
still running at shutdown are terminated.

Example:
  httppool serve -c config.yaml
  httppool serve --config /etc/httppool/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	jobs, err := config.BuildRequests(cfg)
	if err != nil {
		return fmt.Errorf("failed to build requests: %w", err)
	}

	logger.Info("config loaded",
		"requests", len(jobs),
		"capacity", cfg.Capacity,
		"listen", cfg.Listen,
	)

	pool, err := httppool.New(config.PoolOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer func() { _ = pool.Close() }()

	svc := httppool.NewService(pool, config.ServiceConfig(cfg))
	for _, job := range jobs {
		if _, err := svc.Submit(job.Name, "", job.Request); err != nil {
			return fmt.Errorf("failed to submit %s: %w", job.Name, err)
		}
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Serve(ctx, cfg.Listen)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
