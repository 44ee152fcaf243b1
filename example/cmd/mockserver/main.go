// Standalone mock file server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/httppool fetch -c example/config.yaml
//	go run ./cmd/httppool serve -c example/config.yaml
package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	fmt.Println("Mock file server starting on :9999")
	fmt.Println("GET /file?size=N[&chunked=1][&delay=ms]")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	http.HandleFunc("GET /file", func(w http.ResponseWriter, r *http.Request) {
		size, err := strconv.Atoi(r.URL.Query().Get("size"))
		if err != nil || size < 0 {
			size = 64 << 10
		}
		delay, _ := strconv.Atoi(r.URL.Query().Get("delay"))

		if r.URL.Query().Get("chunked") != "1" {
			w.Header().Set("Content-Length", strconv.Itoa(size))
		}

		piece := bytes.Repeat([]byte{'x'}, 8<<10)
		flusher, _ := w.(http.Flusher)
		for size > 0 {
			n := min(size, len(piece))
			if _, err := w.Write(piece[:n]); err != nil {
				return
			}
			size -= n
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
	})

	srv := &http.Server{Addr: ":9999", ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
