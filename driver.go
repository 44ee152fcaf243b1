package httppool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickInterval is the tick period used when NewDriver is given zero.
const DefaultTickInterval = 50 * time.Millisecond

// Driver advances every active request of a [Pool] on a fixed period.
//
// Each tick snapshots the pool's active requests, ordered by id, and ticks
// each one. A panic inside one request's tick terminates only that request.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Driver struct {
	pool     *Pool
	interval time.Duration
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	ticks atomic.Uint64
}

// NewDriver creates a [Driver] for pool.
//
// Parameters:
//   - pool: The pool whose active requests are ticked
//   - interval: Time between ticks; zero uses [DefaultTickInterval]
//   - logger: Logger for driver events; nil uses the pool's logger
//
// The driver must be started with [Driver.Start] and stopped with
// [Driver.Stop], or ticked manually with [Driver.Tick].
func NewDriver(pool *Pool, interval time.Duration, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = pool.logger
	}
	return &Driver{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Interval returns the tick period.
func (d *Driver) Interval() time.Duration {
	return d.interval
}

// Ticks returns the number of completed tick cycles.
func (d *Driver) Ticks() uint64 {
	return d.ticks.Load()
}

// Start begins the tick loop in a background goroutine.
//
// Start is non-blocking. It ticks once immediately and then every interval
// until [Driver.Stop] is called or ctx is cancelled.
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	loopCtx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()

	d.logger.Debug("driver started", "interval", d.interval.String())

	go func() {
		defer d.wg.Done()

		d.Tick()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				d.Tick()
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit.
//
// Requests in flight are left as they are; they resume if another driver
// ticks the pool. Stop is idempotent and safe to call before Start.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		if d.cancel != nil {
			d.cancel()
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// Tick runs one cycle over the pool's active requests and returns how many
// were ticked. It can be called directly by an external tick source.
func (d *Driver) Tick() int {
	states := d.pool.activeSnapshot()
	for _, st := range states {
		st.Tick()
	}
	d.ticks.Add(1)
	return len(states)
}
