package httppool

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a scripted Connection. Each ReadAvailable call returns the
// next queued chunk; once the script is empty it returns readErr, or
// io.EOF if eof is set.
type fakeConn struct {
	mu sync.Mutex

	connectErr error
	pollErr    error
	writeErr   error
	readErr    error
	eof        bool
	panicRead  bool

	status   ConnStatus
	target   string
	chunks   [][]byte
	connects int
	writes   int
	closes   int
	lastReq  string
}

func (c *fakeConn) Connect(host string, port int, useTLS bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))
	if c.status == ConnConnected && c.target == target {
		return nil
	}
	c.target = target
	c.status = ConnConnecting
	return nil
}

func (c *fakeConn) Poll() (ConnStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pollErr != nil {
		return ConnDisconnected, c.pollErr
	}
	if c.status == ConnConnecting {
		c.status = ConnConnected
	}
	return c.status, nil
}

func (c *fakeConn) WriteRequestHeaders(method, target string, header *Header, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes++
	c.lastReq = method + " " + target
	return c.writeErr
}

func (c *fakeConn) ReadAvailable() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.panicRead {
		panic("scripted read panic")
	}
	if len(c.chunks) > 0 {
		data := c.chunks[0]
		c.chunks = c.chunks[1:]
		return data, nil
	}
	if c.eof {
		return nil, io.EOF
	}
	return nil, c.readErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	c.status = ConnDisconnected
	return nil
}

// respond queues response chunks.
func (c *fakeConn) respond(chunks ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range chunks {
		c.chunks = append(c.chunks, []byte(ch))
	}
}

func (c *fakeConn) stats() (connects, writes, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.writes, c.closes
}

// fakeFactory records every connection it creates.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) New() Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

// newTestPool creates a pool backed by fake connections.
func newTestPool(t *testing.T, capacity int, opts ...Option) (*Pool, *fakeFactory) {
	t.Helper()

	factory := &fakeFactory{}
	opts = append([]Option{
		WithCapacity(capacity),
		WithLogger(testLogger()),
		WithConnectionFactory(factory.New),
	}, opts...)

	pool, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, factory
}

// connOf returns the fake connection of the slot held by st.
func connOf(t *testing.T, st *RequestState) *fakeConn {
	t.Helper()

	st.mu.Lock()
	defer st.mu.Unlock()
	require.NotNil(t, st.slot, "request %d holds no slot", st.id)
	return st.slot.conn.(*fakeConn)
}

// tickUntilTerminal ticks st until it finishes or limit ticks were spent.
func tickUntilTerminal(t *testing.T, st *RequestState, limit int) Result {
	t.Helper()

	for i := 0; i < limit && !st.Phase().Terminal(); i++ {
		st.Tick()
	}
	require.True(t, st.Phase().Terminal(), "request %d still in %s after %d ticks", st.id, st.Phase(), limit)
	return st.Result()
}

// recordingSink is an in-memory Sink that remembers how it was finished.
type recordingSink struct {
	mu       sync.Mutex
	data     []byte
	writeErr error
	closed   bool
	aborted  bool
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	return nil
}

var errScripted = errors.New("scripted failure")
