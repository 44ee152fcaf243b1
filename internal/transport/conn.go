package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jpalmerr/httppool/internal/wire"
)

const (
	defaultDialTimeout = 10 * time.Second
	readBufferSize     = 32 << 10
)

// ErrNotConnected is returned when writing on a connection that is not up.
var ErrNotConnected = errors.New("connection not established")

// Status is the progress of a [Conn] towards being usable.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// Options configures connections created by a [Dialer].
type Options struct {
	// DialTimeout bounds TCP connect plus TLS handshake. Defaults to 10s.
	DialTimeout time.Duration

	// DialRate limits new connection establishment per second across all
	// connections of a Dialer. Zero means unlimited.
	DialRate float64

	// TLSConfig is cloned for every TLS connection. ServerName is filled
	// from the target host when empty.
	TLSConfig *tls.Config
}

// Dialer creates [Conn] values sharing one dial rate limiter.
type Dialer struct {
	opts    Options
	limiter *rate.Limiter
}

// NewDialer returns a Dialer for opts.
func NewDialer(opts Options) *Dialer {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	d := &Dialer{opts: opts}
	if opts.DialRate > 0 {
		burst := int(opts.DialRate)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.DialRate), burst)
	}
	return d
}

// NewConn returns a disconnected connection.
func (d *Dialer) NewConn() *Conn {
	return &Conn{opts: d.opts, limiter: d.limiter}
}

// Conn is a poll-driven HTTP/1.1 client connection.
//
// Dialing, writing and reading happen on background goroutines so that
// [Conn.Poll] and [Conn.ReadAvailable] never block. Results of goroutines
// started for an earlier connection attempt are discarded by comparing
// generations.
type Conn struct {
	opts    Options
	limiter *rate.Limiter

	mu         sync.Mutex
	gen        uint64
	status     Status
	target     string
	hostHeader string
	netConn    net.Conn
	cancelDial context.CancelFunc
	dialErr    error
	writeErr   error
	readErr    error
	pending    []byte
}

// Connect starts connecting to host:port. If the connection is already up
// and healthy for the same target it is kept and Connect returns at once.
func (c *Conn) Connect(host string, port int, useTLS bool) error {
	if host == "" {
		return errors.New("empty host")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	target := fmt.Sprintf("%s:%d/%t", host, port, useTLS)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusConnected && c.target == target && c.readErr == nil && c.writeErr == nil {
		c.pending = nil
		return nil
	}

	c.closeLocked()
	c.status = StatusConnecting
	c.target = target
	c.hostHeader = hostHeader(host, port, useTLS)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	c.cancelDial = cancel
	go c.dial(ctx, c.gen, host, port, useTLS)

	return nil
}

func (c *Conn) dial(ctx context.Context, gen uint64, host string, port int, useTLS bool) {
	conn, err := c.establish(ctx, host, port, useTLS)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if err != nil {
		c.status = StatusDisconnected
		c.dialErr = err
		return
	}

	c.netConn = conn
	c.status = StatusConnected
	go c.readLoop(gen, conn)
}

func (c *Conn) establish(ctx context.Context, host string, port int, useTLS bool) (net.Conn, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dial rate limit: %w", err)
		}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !useTLS {
		return conn, nil
	}

	cfg := &tls.Config{}
	if c.opts.TLSConfig != nil {
		cfg = c.opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

func (c *Conn) readLoop(gen uint64, conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
		}
		if err != nil {
			c.readErr = err
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

// Poll reports connection progress. A failed dial yields StatusDisconnected
// and the dial error.
func (c *Conn) Poll() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.dialErr
}

// WriteRequest renders and sends a request without blocking the caller.
// Write failures surface through the next [Conn.ReadAvailable].
func (c *Conn) WriteRequest(method, target string, fields []wire.Field, body []byte) error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn, gen := c.netConn, c.gen
	buf := wire.RenderRequest(nil, method, target, c.hostHeader, fields, body)
	c.mu.Unlock()

	go func() {
		if _, err := conn.Write(buf); err != nil {
			c.mu.Lock()
			if gen == c.gen && c.writeErr == nil {
				c.writeErr = err
			}
			c.mu.Unlock()
		}
	}()
	return nil
}

// ReadAvailable returns all bytes received since the previous call. When
// nothing is buffered it returns the terminal read error, if any, which is
// io.EOF once the peer has closed.
func (c *Conn) ReadAvailable() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		data := c.pending
		c.pending = nil
		return data, nil
	}
	if c.writeErr != nil {
		return nil, c.writeErr
	}
	return nil, c.readErr
}

// Close tears the connection down. The Conn may be connected again.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	c.gen++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	var err error
	if c.netConn != nil {
		err = c.netConn.Close()
		c.netConn = nil
	}

	c.status = StatusDisconnected
	c.target = ""
	c.dialErr = nil
	c.writeErr = nil
	c.readErr = nil
	c.pending = nil
	return err
}

func hostHeader(host string, port int, useTLS bool) string {
	if (useTLS && port == 443) || (!useTLS && port == 80) {
		if net.ParseIP(host) != nil && net.ParseIP(host).To4() == nil {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
