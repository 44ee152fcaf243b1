package main

import (
	"bytes"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// newMockFileHandler serves generated bodies of a requested size.
//
// Query parameters:
//   - size: body length in bytes (default 64 KiB)
//   - chunked: "1" streams the body with chunked encoding
//   - delay: pause in milliseconds between 8 KiB pieces
func newMockFileHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /file", func(w http.ResponseWriter, r *http.Request) {
		size, err := strconv.Atoi(r.URL.Query().Get("size"))
		if err != nil || size < 0 {
			size = 64 << 10
		}
		delay, _ := strconv.Atoi(r.URL.Query().Get("delay"))
		chunked := r.URL.Query().Get("chunked") == "1"

		body := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]

		w.Header().Set("Content-Type", "application/octet-stream")
		if !chunked {
			w.Header().Set("Content-Length", strconv.Itoa(size))
		}

		// simulate small latency variance
		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		flusher, _ := w.(http.Flusher)
		for len(body) > 0 {
			n := min(len(body), 8<<10)
			if _, err := w.Write(body[:n]); err != nil {
				slog.Error("failed to write response", "error", err)
				return
			}
			body = body[n:]
			if flusher != nil {
				flusher.Flush()
			}
			if delay > 0 {
				time.Sleep(time.Duration(delay) * time.Millisecond)
			}
		}
	})
	return mux
}

// StartMockFileServer runs the mock file server on addr.
// Call this in a goroutine before submitting requests.
func StartMockFileServer(addr string) {
	srv := &http.Server{Addr: addr, Handler: newMockFileHandler(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
