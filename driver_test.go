package httppool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDriver_StopBeforeStart verifies that calling Stop() on a driver that
// was never started is a safe no-op, and that Start after Stop does nothing.
func TestDriver_StopBeforeStart(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	driver := NewDriver(pool, time.Millisecond, testLogger())

	driver.Stop()
	driver.Start(context.Background())
	driver.Stop()

	assert.Equal(t, uint64(0), driver.Ticks())
}

// TestDriver_StopTwice verifies that Stop() is idempotent.
func TestDriver_StopTwice(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	driver := NewDriver(pool, time.Millisecond, testLogger())
	driver.Start(context.Background())
	driver.Start(context.Background())

	driver.Stop()
	driver.Stop()
}

// TestDriver_ConcurrentStartStop verifies that calling Start() and Stop()
// concurrently does not race. Run with: go test -race .
func TestDriver_ConcurrentStartStop(t *testing.T) {
	pool, _ := newTestPool(t, 1)

	for i := 0; i < 100; i++ {
		driver := NewDriver(pool, time.Millisecond, testLogger())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			driver.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			driver.Stop()
		}()
		wg.Wait()
		driver.Stop()
	}
}

func TestDriver_Defaults(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	driver := NewDriver(pool, 0, nil)

	assert.Equal(t, DefaultTickInterval, driver.Interval())
	assert.Same(t, pool.logger, driver.logger)
}

// TestDriver_TickAdvancesActiveRequests verifies a manual Tick advances
// connected requests and ignores requests that never connected.
func TestDriver_TickAdvancesActiveRequests(t *testing.T) {
	pool, _ := newTestPool(t, 3)
	driver := NewDriver(pool, time.Hour, testLogger())

	idle := pool.NewRequestState()
	a, connA := startRequest(t, pool)
	b, connB := startRequest(t, pool)
	connA.respond("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\na")
	connB.respond("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nb")

	assert.Equal(t, 2, driver.Tick())
	assert.Equal(t, PhaseConnected, a.Phase())
	assert.Equal(t, PhaseConnected, b.Phase())
	assert.Equal(t, PhaseCreated, idle.Phase())

	for i := 0; i < 5; i++ {
		driver.Tick()
	}

	assert.Equal(t, PhaseDone, a.Phase())
	assert.Equal(t, PhaseDone, b.Phase())
	assert.Equal(t, 0, driver.Tick())
	assert.Equal(t, uint64(7), driver.Ticks())
}

// TestDriver_PanicIsolated verifies one request panicking during a tick does
// not stop the cycle for the others.
func TestDriver_PanicIsolated(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	driver := NewDriver(pool, time.Hour, testLogger())

	bad, badConn := startRequest(t, pool)
	good, goodConn := startRequest(t, pool)
	badConn.panicRead = true
	goodConn.respond("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")

	for i := 0; i < 6; i++ {
		driver.Tick()
	}

	assert.Equal(t, PhaseTerminated, bad.Phase())
	assert.Equal(t, PhaseDone, good.Phase())
	assert.NoError(t, good.Result().Err)
}

// TestDriver_RunsRequestsInBackground verifies the started driver completes
// requests without manual ticks.
func TestDriver_RunsRequestsInBackground(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	driver := NewDriver(pool, time.Millisecond, testLogger())
	driver.Start(context.Background())
	defer driver.Stop()

	st, conn := startRequest(t, pool)
	conn.respond("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := st.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "hello", string(res.Body))
	assert.Greater(t, driver.Ticks(), uint64(0))
}
