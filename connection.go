package httppool

import (
	"crypto/tls"
	"time"

	"github.com/jpalmerr/httppool/internal/sink"
	"github.com/jpalmerr/httppool/internal/transport"
	"github.com/jpalmerr/httppool/internal/wire"
)

// ConnStatus is the progress reported by [Connection.Poll].
type ConnStatus int

const (
	// ConnDisconnected means no connection is up. Poll pairs it with an
	// error when a connection attempt failed.
	ConnDisconnected ConnStatus = iota
	// ConnConnecting means a connection attempt is in progress.
	ConnConnecting
	// ConnConnected means the connection is ready to send.
	ConnConnected
)

func (s ConnStatus) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connection is the network capability wrapped by a pool slot.
//
// None of the methods may block on network I/O: Connect starts an attempt,
// Poll reports its progress, and ReadAvailable returns only bytes that have
// already arrived. A Connection is used by one request at a time.
type Connection interface {
	// Connect starts connecting to host:port, reusing an existing healthy
	// connection to the same target where possible.
	Connect(host string, port int, useTLS bool) error

	// Poll reports connection progress and the error of a failed attempt.
	Poll() (ConnStatus, error)

	// WriteRequestHeaders sends the request line, header and body.
	WriteRequestHeaders(method, target string, header *Header, body []byte) error

	// ReadAvailable returns the bytes received since the previous call.
	// It returns io.EOF once the peer has closed and everything was read.
	ReadAvailable() ([]byte, error)

	// Close tears the connection down. The Connection may be connected again.
	Close() error
}

// ConnectionFactory creates the Connection for a new slot.
type ConnectionFactory func() Connection

// Sink receives a response body that is not buffered in memory.
//
// A Sink that also implements Abort() error is aborted instead of closed
// when the request fails, so partial output can be discarded.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// SinkFactory opens the Sink for an output path.
type SinkFactory func(path string) (Sink, error)

type aborter interface {
	Abort() error
}

// DialOptions configures the TCP/TLS connections of [NetConnectionFactory].
type DialOptions struct {
	// DialTimeout bounds connect plus TLS handshake. Defaults to 10s.
	DialTimeout time.Duration

	// DialRate limits new connections per second across the factory.
	// Zero means unlimited.
	DialRate float64

	// TLSConfig is used for TLS connections. Nil uses system defaults.
	TLSConfig *tls.Config
}

// NetConnectionFactory returns a factory of TCP/TLS connections.
func NetConnectionFactory(opts DialOptions) ConnectionFactory {
	dialer := transport.NewDialer(transport.Options{
		DialTimeout: opts.DialTimeout,
		DialRate:    opts.DialRate,
		TLSConfig:   opts.TLSConfig,
	})
	return func() Connection {
		return &netConnection{conn: dialer.NewConn()}
	}
}

// FileSinkFactory writes bodies to files atomically: output appears at the
// path only after the body completed.
func FileSinkFactory(path string) (Sink, error) {
	f, err := sink.Create(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// netConnection adapts transport.Conn to Connection.
type netConnection struct {
	conn *transport.Conn
}

func (c *netConnection) Connect(host string, port int, useTLS bool) error {
	return c.conn.Connect(host, port, useTLS)
}

func (c *netConnection) Poll() (ConnStatus, error) {
	status, err := c.conn.Poll()
	switch status {
	case transport.StatusConnected:
		return ConnConnected, err
	case transport.StatusConnecting:
		return ConnConnecting, err
	default:
		return ConnDisconnected, err
	}
}

func (c *netConnection) WriteRequestHeaders(method, target string, header *Header, body []byte) error {
	var fields []wire.Field
	if header != nil {
		fields = make([]wire.Field, 0, header.Len())
		for _, f := range header.fields {
			fields = append(fields, wire.Field{Key: f.Key, Value: f.Value})
		}
	}
	return c.conn.WriteRequest(method, target, fields, body)
}

func (c *netConnection) ReadAvailable() ([]byte, error) {
	return c.conn.ReadAvailable()
}

func (c *netConnection) Close() error {
	return c.conn.Close()
}
