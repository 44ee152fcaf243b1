package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jpalmerr/httppool"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockFileServer("127.0.0.1:9999")
	time.Sleep(100 * time.Millisecond)

	// two slots for six downloads: four of them wait for a free slot
	pool, err := httppool.New(httppool.WithCapacity(2))
	if err != nil {
		slog.Error("failed to create pool", "error", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := httppool.NewDriver(pool, 10*time.Millisecond, nil)
	driver.Start(ctx)
	defer driver.Stop()

	fmt.Println()
	fmt.Println("  httppool demo: 6 downloads over 2 connections")
	fmt.Println()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		target := fmt.Sprintf("/file?size=%d&delay=20", (i+1)*32<<10)
		if i%2 == 1 {
			target += "&chunked=1"
		}

		st := pool.NewRequestState()
		_ = st.SetRequest(httppool.Request{Target: target})
		_ = st.OnProgress(func(received, total int64) {
			if total > 0 {
				fmt.Printf("  request %d: %6d / %d bytes\n", st.ID(), received, total)
			} else {
				fmt.Printf("  request %d: %6d bytes (length unknown)\n", st.ID(), received)
			}
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			download(ctx, st)
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	fmt.Println()
	fmt.Printf("  done: %d connections created, %d handed straight to waiters\n", stats.Created, stats.Handoffs)
}

// download drives one request with the low-level RequestState API.
func download(ctx context.Context, st *httppool.RequestState) {
	if err := st.WaitReady(ctx); err != nil {
		fmt.Printf("  request %d: gave up waiting: %v\n", st.ID(), err)
		return
	}
	if err := st.Connect("127.0.0.1", 9999, false); err != nil {
		fmt.Printf("  request %d: %v\n", st.ID(), err)
		return
	}

	res, err := st.Wait(ctx)
	if err != nil {
		st.Terminate()
		return
	}
	if res.Err != nil {
		fmt.Printf("  request %d failed: %v\n", st.ID(), res.Err)
		return
	}
	fmt.Printf("  request %d finished: %d %d bytes in %s\n",
		st.ID(), res.StatusCode, res.BytesReceived, res.Latency().Round(time.Millisecond))
}
