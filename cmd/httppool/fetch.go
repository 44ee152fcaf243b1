package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/httppool"
	"github.com/jpalmerr/httppool/config"
)

// fetchCmd runs requests to completion and prints a summary.
var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Run requests through the pool and exit",
	Long: `Run the configured requests, plus any URLs given as arguments, through
one pool and print a line per request when all have finished.

Without a config file the pool uses default settings and each argument is
fetched with GET into memory.

Exit codes:
  0 - Every request completed
  1 - At least one request failed

Example:
  httppool fetch -c downloads.yaml
  httppool fetch https://example.com/ https://example.org/`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringP("config", "c", "", "path to config file")
}

// fetchOutcome pairs a job with its result.
type fetchOutcome struct {
	job config.Job
	res httppool.Result
	err error
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadOrDefault(cmd)
	if err != nil {
		return err
	}

	jobs, err := config.BuildRequests(cfg)
	if err != nil {
		return fmt.Errorf("failed to build requests: %w", err)
	}
	for i, arg := range args {
		jobs = append(jobs, config.Job{
			Name:    fmt.Sprintf("arg%d", i+1),
			Request: httppool.Request{Method: "GET", URL: arg},
		})
	}
	if len(jobs) == 0 {
		return errors.New("no requests configured")
	}

	logger := newLogger(cfg)
	pool, err := httppool.New(config.PoolOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer func() { _ = pool.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := httppool.NewDriver(pool, cfg.TickInterval.Duration(), logger)
	driver.Start(ctx)
	defer driver.Stop()

	outcomes := runJobs(ctx, pool, jobs)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tBYTES\tLATENCY\tRESULT")
	failed := 0
	for _, o := range outcomes {
		result := "ok"
		if o.err != nil {
			failed++
			result = o.err.Error()
		} else if o.res.OutputPath != "" {
			result = "saved " + o.res.OutputPath
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			o.job.Name, o.res.StatusCode, o.res.BytesReceived, o.res.Latency().Round(time.Millisecond), result)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(outcomes))
	}
	return nil
}

// runJobs runs every job on pool concurrently and returns the outcomes in
// job order.
func runJobs(ctx context.Context, pool *httppool.Pool, jobs []config.Job) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := pool.Do(gctx, job.Request)
			outcomes[i] = fetchOutcome{job: job, res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// loadOrDefault loads the --config file, or returns defaults when none is set.
func loadOrDefault(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		return config.Parse([]byte("{}"))
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
