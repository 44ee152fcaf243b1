package httppool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/httppool/dashboard"
	"github.com/jpalmerr/httppool/internal/server"
	"github.com/jpalmerr/httppool/internal/store"
)

// ServiceConfig configures a [Service].
type ServiceConfig struct {
	// TickInterval is the driver period. Zero uses [DefaultTickInterval].
	TickInterval time.Duration

	// RecordLimit caps the number of stored request records. Zero keeps
	// the store default.
	RecordLimit int

	// OutputDir is where API submissions may write bodies. Empty rejects
	// submissions that ask for an output file.
	OutputDir string

	// Title is shown on the monitor page.
	Title string
}

// Service runs a [Pool] behind the HTTP API.
//
// Service owns a [Driver] for the pool and keeps a record of every submitted
// request, updated as the body arrives and when the request finishes. The
// records are served as JSON and streamed over Server-Sent Events by
// [Service.Serve].
//
// The typical lifecycle is:
//
//	svc := httppool.NewService(pool, httppool.ServiceConfig{})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	svc.Serve(ctx, ":8080") // blocks until context cancelled
type Service struct {
	pool      *Pool
	driver    *Driver
	records   *store.MemoryStore
	outputDir string
	title     string
	logger    *slog.Logger

	// runCtx bounds submitted requests; cancelled by shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	once      sync.Once
}

// NewService creates a [Service] for pool.
func NewService(pool *Pool, cfg ServiceConfig) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		pool:      pool,
		driver:    NewDriver(pool, cfg.TickInterval, pool.logger),
		records:   store.NewMemoryStore(cfg.RecordLimit),
		outputDir: cfg.OutputDir,
		title:     cfg.Title,
		logger:    pool.logger,
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Pool returns the pool the service runs requests on.
func (s *Service) Pool() *Pool {
	return s.pool
}

// Submit starts req in the background and returns its request id.
//
// name and submissionID are stored with the request's record. The request
// waits for a slot like any other; it makes progress once the service's
// driver runs.
func (s *Service) Submit(name, submissionID string, req Request) (uint64, error) {
	st, target, err := s.pool.prepare(req)
	if err != nil {
		return 0, err
	}

	method := req.Method
	if method == "" {
		method = "GET"
	}
	base := store.Record{
		RequestID:    st.ID(),
		SubmissionID: submissionID,
		Name:         name,
		Method:       method,
		URL:          req.URL,
		OutputPath:   req.OutputPath,
		TotalBytes:   -1,
	}

	// progress and the final record race; the final record always wins
	var mu sync.Mutex
	finished := false

	_ = st.OnProgress(func(received, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		rec := base
		rec.Phase = st.Phase().String()
		rec.BytesReceived = received
		rec.TotalBytes = total
		rec.UpdatedAt = time.Now()
		s.records.Update(rec)
	})

	initial := base
	initial.Phase = st.Phase().String()
	initial.UpdatedAt = time.Now()
	s.records.Update(initial)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		res, _ := s.pool.run(s.runCtx, st, target, req.Timeout)

		mu.Lock()
		finished = true
		s.records.Update(recordFromResult(base, res))
		mu.Unlock()
	}()

	s.logger.Debug("request submitted",
		"request_id", base.RequestID,
		"submission_id", submissionID,
		"url", req.URL,
	)
	return base.RequestID, nil
}

// Records returns the stored request records ordered by request id.
func (s *Service) Records() []store.Record {
	return s.records.GetAll()
}

// Record returns the stored record for a request id.
func (s *Service) Record(id uint64) (store.Record, bool) {
	return s.records.Get(id)
}

// Serve starts the driver and the HTTP API on addr and blocks until ctx is
// cancelled. On return in-flight submissions have been terminated and the
// driver is stopped.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start.
func (s *Service) Serve(ctx context.Context, addr string) error {
	s.logger.Info("httppool starting",
		"capacity", s.pool.Capacity(),
		"tick_interval", s.driver.Interval().String(),
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	s.driver.Start(ctx)

	stats := func() any { return s.pool.Stats() }
	httpServer := server.NewServer(s.records, addr, stats, s.submitSubmission, dashboard.Assets, s.title, s.logger)
	if err := httpServer.Start(ctx); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	s.Shutdown()
	s.logger.Info("httppool stopped")
	return nil
}

// Start starts the driver without the HTTP API, for callers that only use
// [Service.Submit].
func (s *Service) Start(ctx context.Context) {
	s.driver.Start(ctx)
}

// Shutdown terminates in-flight submissions, waits for their records, and
// stops the driver. Safe to call more than once.
func (s *Service) Shutdown() {
	s.once.Do(func() {
		s.runCancel()
		s.wg.Wait()
		s.driver.Stop()
	})
}

// Wait blocks until every submitted request has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

var allowedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
}

// submitSubmission adapts an API submission to [Service.Submit].
func (s *Service) submitSubmission(sub server.Submission) (uint64, error) {
	method := strings.ToUpper(sub.Method)
	if method == "" {
		method = "GET"
	}
	if !allowedMethods[method] {
		return 0, fmt.Errorf("unsupported method %q", sub.Method)
	}

	req := Request{
		Method: method,
		URL:    sub.URL,
		Body:   []byte(sub.Body),
	}
	if len(sub.Headers) > 0 {
		req.Header = HeaderFromMap(sub.Headers)
	}

	if sub.Output != "" {
		if s.outputDir == "" {
			return 0, errors.New("output files are not enabled")
		}
		name := filepath.Base(sub.Output)
		if name == "." || name == ".." || name == string(filepath.Separator) {
			return 0, fmt.Errorf("invalid output name %q", sub.Output)
		}
		req.OutputPath = filepath.Join(s.outputDir, name)
	}

	return s.Submit(sub.Name, sub.ID, req)
}

// recordFromResult fills base with the outcome of a finished request.
func recordFromResult(base store.Record, res Result) store.Record {
	rec := base
	rec.Phase = res.Phase.String()
	rec.StatusCode = res.StatusCode
	rec.BytesReceived = res.BytesReceived
	rec.TotalBytes = res.TotalBytes
	rec.LatencyMs = res.Latency().Milliseconds()
	rec.UpdatedAt = time.Now()
	if res.OutputPath != "" {
		rec.OutputPath = res.OutputPath
	}
	if res.Err != nil {
		msg := res.Err.Error()
		rec.Error = &msg
		rec.Kind = res.Kind.String()
	}
	return rec
}
