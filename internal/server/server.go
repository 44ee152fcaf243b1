package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/httppool/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// maxSubmitBody bounds the JSON body accepted by POST /api/requests.
	maxSubmitBody = 1 << 20

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "httppool"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// Submission is a request submitted through the API.
type Submission struct {
	// ID is assigned by the server and echoed back to the client.
	ID string `json:"-"`

	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Output  string            `json:"output"`
}

// SubmitFunc starts a submitted request and returns its request id.
type SubmitFunc func(sub Submission) (uint64, error)

// StatsFunc returns a JSON-encodable snapshot of pool statistics.
type StatsFunc func() any

// Server handles HTTP requests for the request monitor and API.
//
// Server provides these endpoints:
//   - GET /: Serves the embedded monitor page
//   - GET /api/stats: Pool statistics as JSON
//   - GET /api/requests: All stored request records as JSON
//   - GET /api/requests/{id}: One request record
//   - POST /api/requests: Submit a request (202 with its ids)
//   - GET /api/sse: Server-Sent Events stream of record updates
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store  store.Store
	addr   string
	stats  StatsFunc
	submit SubmitFunc
	assets fs.FS
	title  string
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listenAddr net.Addr
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store of request records
//   - addr: TCP address to listen on, e.g. ":8080" or "127.0.0.1:0"
//   - stats: Pool statistics source (may be nil)
//   - submit: Request submission hook (may be nil, disabling POST)
//   - assets: Embedded filesystem containing the monitor page (may be nil)
//   - title: Page title (defaults to "httppool" if empty)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, addr string, stats StatsFunc, submit SubmitFunc, assets fs.FS, title string, logger *slog.Logger) *Server {
	return &Server{
		store:  st,
		addr:   addr,
		stats:  stats,
		submit: submit,
		assets: assets,
		title:  title,
		logger: logger,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/requests", s.handleList)
	mux.HandleFunc("POST /api/requests", s.handleSubmit)
	mux.HandleFunc("GET /api/requests/{id}", s.handleGet)
	mux.HandleFunc("GET /api/sse", s.handleSSE)

	if s.assets != nil {
		mux.HandleFunc("GET /", s.handleDashboard)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured address.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify address availability synchronously
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", s.addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.listenAddr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("api server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// handleDashboard serves the monitor page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if s.assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "Stats not available", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	record, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "Request not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// submitResponse is the body returned for an accepted submission.
type submitResponse struct {
	RequestID    uint64 `json:"request_id"`
	SubmissionID string `json:"submission_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.submit == nil {
		http.Error(w, "Submission disabled", http.StatusMethodNotAllowed)
		return
	}

	var sub Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if sub.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	sub.ID = uuid.NewString()
	id, err := s.submit(sub)
	if err != nil {
		s.logger.Warn("submission rejected", "submission_id", sub.ID, "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Debug("submission accepted", "submission_id", sub.ID, "request_id", id)
	s.writeJSON(w, http.StatusAccepted, submitResponse{RequestID: id, SubmissionID: sub.ID})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams record updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// replay current records first
	for _, record := range s.store.GetAll() {
		data, err := json.Marshal(record)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(record)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
