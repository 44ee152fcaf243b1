package httppool

import (
	"errors"
	"fmt"

	"github.com/jpalmerr/httppool/internal/wire"
)

// Pool errors
var (
	// ErrPoolExhausted is returned when every slot is borrowed and the caller
	// asked not to wait.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrPoolClosed is returned for work submitted to, or queued on, a closed pool.
	ErrPoolClosed = errors.New("pool closed")
)

// Invariant violations. These indicate a bug in the release or cancel
// discipline, not a runtime condition.
var (
	// ErrDoubleRelease is returned when a slot that is not in use is released.
	ErrDoubleRelease = errors.New("slot released twice")

	// ErrDoubleResolve is returned when a waiter is resolved after it was
	// already resolved or cancelled.
	ErrDoubleResolve = errors.New("waiter resolved twice")

	// ErrForeignSlot is returned when a slot is released to a pool that did
	// not create it.
	ErrForeignSlot = errors.New("slot belongs to another pool")
)

// Request state errors
var (
	// ErrInvalidState is returned when an operation is not valid in the
	// request's current phase.
	ErrInvalidState = errors.New("invalid request state")

	// ErrNotAttached is returned when connecting a request that is still
	// waiting for a slot.
	ErrNotAttached = errors.New("request has no slot yet")

	// ErrTruncatedBody is returned when the connection ends before the
	// declared body length was received.
	ErrTruncatedBody = wire.ErrTruncated

	// ErrMalformedResponse is returned for responses that cannot be parsed.
	ErrMalformedResponse = wire.ErrMalformed
)

// Kind classifies why a request failed.
type Kind int

const (
	// KindNone means the request succeeded or has not finished.
	KindNone Kind = iota
	// KindConnect covers DNS, TCP connect and TLS handshake failures.
	KindConnect
	// KindProtocol covers malformed responses and truncated bodies.
	KindProtocol
	// KindTransport covers socket failures after the connection was up.
	KindTransport
	// KindSink covers failures opening or writing the output sink.
	KindSink
	// KindCancelled means the caller cancelled the request.
	KindCancelled
	// KindTerminated means the caller terminated the request.
	KindTerminated
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnect:
		return "connect_error"
	case KindProtocol:
		return "protocol_error"
	case KindTransport:
		return "transport_error"
	case KindSink:
		return "sink_error"
	case KindCancelled:
		return "cancelled"
	case KindTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RequestError is the failure recorded on a finished request.
type RequestError struct {
	// ID is the request id.
	ID uint64

	// Kind classifies the failure.
	Kind Kind

	// Op names the step that failed, e.g. "connect", "read", "write sink".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *RequestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("request %d: %s: %s", e.ID, e.Op, e.Kind)
	}
	return fmt.Sprintf("request %d: %s: %s: %v", e.ID, e.Op, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindNone if err is not a *RequestError.
func KindOf(err error) Kind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return KindNone
}
