package httppool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/httppool/internal/wire"
)

// RequestState drives one HTTP request over a pool slot.
//
// A state moves forward one step per [RequestState.Tick]:
//
//	Created → Connecting → Connected → Sent → ReceivingHeaders → StreamingBody → Done
//
// and can leave any non-terminal phase through [RequestState.Cancel] or
// [RequestState.Terminate]. Every terminal transition hands the slot back
// to the pool exactly once.
//
// All methods are safe for concurrent use; they serialize on the state's
// mutex, which is always taken before the pool's.
type RequestState struct {
	id    uint64
	pool  *Pool
	ready <-chan struct{}
	done  chan struct{}

	mu         sync.Mutex
	phase      Phase
	slot       *Slot
	waiter     *Waiter
	released   bool
	host       string
	port       int
	useTLS     bool
	request    Request
	outputPath string
	sink       Sink
	onProgress func(received, total int64)

	sentRequest   bool
	parser        *wire.ResponseParser
	decoder       wire.BodyDecoder
	keepAlive     bool
	statusCode    int
	header        *Header
	body          []byte
	bytesReceived int64
	totalBytes    int64
	progressDirty bool
	sinkErr       error

	kind       Kind
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func newRequestState(p *Pool, id uint64) *RequestState {
	return &RequestState{
		id:         id,
		pool:       p,
		done:       make(chan struct{}),
		totalBytes: -1,
		request:    Request{Method: "GET", Target: "/"},
	}
}

// attach gives the state a slot at construction time.
func (s *RequestState) attach(slot *Slot) {
	s.slot = slot
	s.ready = closedChan
}

// queue makes the state wait on w for its slot.
func (s *RequestState) queue(w *Waiter) {
	s.waiter = w
	s.ready = w.ready
}

// failUnattached finishes a state that never got a slot or waiter.
func (s *RequestState) failUnattached(err error) {
	s.ready = closedChan
	s.phase = PhaseCancelled
	s.kind = KindCancelled
	s.err = &RequestError{ID: s.id, Kind: KindCancelled, Op: "acquire", Err: err}
	s.released = true
	close(s.done)
}

// ID returns the request id. Ids increase monotonically per pool.
func (s *RequestState) ID() uint64 {
	return s.id
}

// Ready is closed once the state holds a slot, or once waiting for one
// ended without a slot (cancelled or pool closed).
func (s *RequestState) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the state reaches a terminal phase.
func (s *RequestState) Done() <-chan struct{} {
	return s.done
}

// Phase returns the current phase.
func (s *RequestState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// WaitReady blocks until the state holds a slot. If ctx ends first the
// queued waiter is cancelled and the state ends as Cancelled.
func (s *RequestState) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	}

	s.mu.Lock()
	finished := s.claimLocked()
	attached := s.slot != nil
	err := s.err
	s.mu.Unlock()

	if finished {
		s.complete()
	}
	if attached {
		return nil
	}
	if err != nil {
		return err
	}
	return ErrInvalidState
}

// claimLocked moves a delivered slot from the waiter into the state. It
// reports whether the state finished because waiting failed.
func (s *RequestState) claimLocked() bool {
	if s.slot != nil || s.waiter == nil {
		return false
	}

	slot, ok, err := s.waiter.take()
	if !ok {
		return false
	}
	s.waiter = nil
	if err != nil {
		return s.finishLocked(PhaseCancelled, KindCancelled, "acquire", err)
	}
	s.slot = slot
	return false
}

// claim settles a resolved waiter outside Tick, finishing the state if
// waiting failed.
func (s *RequestState) claim() {
	s.mu.Lock()
	finished := s.claimLocked()
	s.mu.Unlock()

	if finished {
		s.complete()
	}
}

// SetRequest sets method, target, header and body. Only valid in Created.
func (s *RequestState) SetRequest(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCreated {
		return ErrInvalidState
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.Target == "" {
		req.Target = "/"
	}
	s.request = req
	return nil
}

// SetOutputPath streams the body to path through the pool's sink factory
// instead of buffering it. Only valid in Created.
func (s *RequestState) SetOutputPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCreated || s.sink != nil {
		return ErrInvalidState
	}
	s.outputPath = path
	return nil
}

// SetSink streams the body to sink. Only valid in Created.
func (s *RequestState) SetSink(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCreated || s.outputPath != "" {
		return ErrInvalidState
	}
	s.sink = sink
	return nil
}

// OnProgress registers fn to be called after each tick that received body
// bytes. total is -1 when the body length is unknown. Only valid in Created.
func (s *RequestState) OnProgress(fn func(received, total int64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCreated {
		return ErrInvalidState
	}
	s.onProgress = fn
	return nil
}

// Connect starts connecting to host:port and registers the state with the
// pool so the driver ticks it.
//
// It returns ErrNotAttached while the state is still waiting for a slot and
// ErrInvalidState outside Created. On a closed pool the request ends as
// Cancelled and ErrPoolClosed is returned. Failures to open the output sink
// or to start the connection are not returned; they finish the request and
// show up in its [Result].
func (s *RequestState) Connect(host string, port int, useTLS bool) error {
	s.mu.Lock()
	if s.phase != PhaseCreated {
		s.mu.Unlock()
		return ErrInvalidState
	}
	if s.claimLocked() {
		err := s.err
		s.mu.Unlock()
		s.complete()
		return err
	}
	if s.slot == nil {
		s.mu.Unlock()
		return ErrNotAttached
	}

	if err := s.pool.activate(s); err != nil {
		s.finishLocked(PhaseCancelled, KindCancelled, "connect", err)
		s.mu.Unlock()
		s.complete()
		return err
	}

	s.host, s.port, s.useTLS = host, port, useTLS
	s.startedAt = time.Now()

	finished := false
	if s.outputPath != "" {
		sink, err := s.pool.sinkFactory(s.outputPath)
		if err != nil {
			finished = s.finishLocked(PhaseDone, KindSink, "open sink", err)
		} else {
			s.sink = sink
		}
	}

	if !finished {
		if err := s.slot.conn.Connect(host, port, useTLS); err != nil {
			finished = s.finishLocked(PhaseDone, KindConnect, "connect", err)
		} else {
			s.phase = PhaseConnecting
		}
	}
	if finished {
		s.pool.deactivate(s.id)
	}
	s.mu.Unlock()

	if finished {
		s.complete()
	}
	return nil
}

// Tick advances the state by one step. It never blocks on the network and
// is a no-op in terminal phases and before Connect.
func (s *RequestState) Tick() {
	s.mu.Lock()
	finished := s.tickSafelyLocked()

	var (
		progress        func(received, total int64)
		received, total int64
	)
	if s.progressDirty && s.onProgress != nil {
		progress, received, total = s.onProgress, s.bytesReceived, s.totalBytes
	}
	s.progressDirty = false
	s.mu.Unlock()

	if progress != nil {
		progress(received, total)
	}
	if finished {
		s.complete()
	}
}

// tickSafelyLocked runs one step with panic recovery. A panic terminates
// the request with KindTransport so other requests keep being served.
func (s *RequestState) tickSafelyLocked() (finished bool) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.pool.logger.Error("request tick panic",
				"correlation_id", correlationID,
				"request_id", s.id,
				"phase", s.phase.String(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			finished = s.finishLocked(PhaseTerminated, KindTransport, "tick",
				fmt.Errorf("tick panicked (correlation_id: %s)", correlationID))
		}
	}()
	return s.tickLocked()
}

func (s *RequestState) tickLocked() bool {
	switch s.phase {
	case PhaseConnecting:
		status, err := s.slot.conn.Poll()
		switch {
		case err != nil:
			return s.finishLocked(PhaseDone, KindConnect, "connect", err)
		case status == ConnConnected:
			s.phase = PhaseConnected
		case status == ConnDisconnected:
			return s.finishLocked(PhaseDone, KindConnect, "connect", errors.New("connection dropped while connecting"))
		}
		return false

	case PhaseConnected:
		if s.sentRequest {
			return false
		}
		s.sentRequest = true
		req := s.request
		if err := s.slot.conn.WriteRequestHeaders(req.Method, req.Target, req.Header, req.Body); err != nil {
			return s.finishLocked(PhaseDone, KindTransport, "write", err)
		}
		s.parser = wire.NewResponseParser()
		s.phase = PhaseSent
		return false

	case PhaseSent, PhaseReceivingHeaders:
		data, err := s.slot.conn.ReadAvailable()
		if len(data) > 0 {
			if s.phase == PhaseSent {
				s.phase = PhaseReceivingHeaders
			}
			if s.feedHeadLocked(data) {
				return true
			}
		}
		switch {
		case err == nil:
			return false
		case s.phase == PhaseStreamingBody:
			return s.bodyEndLocked(err)
		case errors.Is(err, io.EOF):
			return s.finishLocked(PhaseDone, KindProtocol, "read head",
				fmt.Errorf("%w: connection closed before response head", ErrMalformedResponse))
		default:
			return s.finishLocked(PhaseDone, KindTransport, "read head", err)
		}

	case PhaseStreamingBody:
		data, err := s.slot.conn.ReadAvailable()
		if len(data) > 0 && s.consumeBodyLocked(data) {
			return true
		}
		if err == nil {
			return false
		}
		return s.bodyEndLocked(err)

	default:
		return false
	}
}

// bodyEndLocked handles a read error while streaming the body. EOF ends
// close-delimited bodies and truncates everything else.
func (s *RequestState) bodyEndLocked(err error) bool {
	if !errors.Is(err, io.EOF) {
		return s.finishLocked(PhaseDone, KindTransport, "read body", err)
	}
	if derr := s.decoder.EOF(); derr != nil {
		return s.finishLocked(PhaseDone, KindProtocol, "read body", derr)
	}
	return s.finishLocked(PhaseDone, KindNone, "", nil)
}

// feedHeadLocked parses response head bytes and starts the body once the
// head is complete. It reports whether the request finished.
func (s *RequestState) feedHeadLocked(data []byte) bool {
	done, rest, err := s.parser.Feed(data)
	if err != nil {
		return s.finishLocked(PhaseDone, KindProtocol, "parse head", malformed(err))
	}
	if !done {
		return false
	}

	head := s.parser.Head()

	// interim responses are skipped; the real head follows
	if head.Code >= 100 && head.Code < 200 && head.Code != 101 {
		s.parser = wire.NewResponseParser()
		if len(rest) == 0 {
			return false
		}
		return s.feedHeadLocked(rest)
	}

	s.statusCode = head.Code
	s.header = headerFromWire(head.Fields)
	s.keepAlive = head.KeepAlive() && head.Code != 101

	framing, length, err := wire.BodyFraming(s.request.Method, head)
	if err != nil {
		return s.finishLocked(PhaseDone, KindProtocol, "parse head", malformed(err))
	}

	switch framing {
	case wire.FramingNone:
		s.totalBytes = 0
		return s.finishLocked(PhaseDone, KindNone, "", nil)
	case wire.FramingLength:
		s.totalBytes = length
	case wire.FramingClose:
		s.keepAlive = false
	}

	s.decoder = wire.NewBodyDecoder(framing, length)
	s.phase = PhaseStreamingBody

	if len(rest) > 0 {
		return s.consumeBodyLocked(rest)
	}
	return false
}

// consumeBodyLocked decodes body bytes and reports whether the request
// finished.
func (s *RequestState) consumeBodyLocked(data []byte) bool {
	done, err := s.decoder.Decode(data, s.emitLocked)
	switch {
	case err != nil && s.sinkErr != nil:
		return s.finishLocked(PhaseDone, KindSink, "write sink", s.sinkErr)
	case err != nil:
		return s.finishLocked(PhaseDone, KindProtocol, "decode body", malformed(err))
	case done:
		return s.finishLocked(PhaseDone, KindNone, "", nil)
	default:
		return false
	}
}

func (s *RequestState) emitLocked(p []byte) error {
	if s.sink != nil {
		if _, err := s.sink.Write(p); err != nil {
			s.sinkErr = err
			return err
		}
	} else {
		s.body = append(s.body, p...)
	}
	s.bytesReceived += int64(len(p))
	s.progressDirty = true
	return nil
}

// Cancel ends the request as Cancelled. A queued waiter leaves the queue
// without taking a slot. The connection is closed only if the request had
// already been sent. Cancel is idempotent.
func (s *RequestState) Cancel() {
	s.mu.Lock()
	finished := s.finishLocked(PhaseCancelled, KindCancelled, "cancel", nil)
	s.mu.Unlock()

	if finished {
		s.complete()
	}
}

// Terminate ends the request as Terminated. The connection is closed and
// the slot gets a fresh one before being released, so the slot is usable
// again when Terminate returns. Terminate is idempotent.
func (s *RequestState) Terminate() {
	s.terminateWith(KindTerminated, "terminate", nil)
}

func (s *RequestState) terminateWith(kind Kind, op string, err error) {
	s.mu.Lock()
	finished := s.finishLocked(PhaseTerminated, kind, op, err)
	s.mu.Unlock()

	if finished {
		s.complete()
	}
}

// Release returns the slot to the pool. It is only valid in terminal
// phases and calls into the pool at most once over the state's lifetime;
// terminal transitions already call it, so explicit calls are normally
// no-ops.
func (s *RequestState) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.Terminal() {
		return ErrInvalidState
	}
	return s.releaseLocked()
}

func (s *RequestState) releaseLocked() error {
	if s.released {
		return nil
	}
	s.released = true

	if s.waiter != nil {
		w := s.waiter
		s.waiter = nil
		s.pool.cancelWaiter(w)
	}
	if s.slot == nil {
		return nil
	}
	slot := s.slot
	s.slot = nil
	return s.pool.release(slot)
}

// finishLocked moves the state into a terminal phase, settles the sink and
// connection and releases the slot. It reports false if the state was
// already terminal.
func (s *RequestState) finishLocked(phase Phase, kind Kind, op string, err error) bool {
	if s.phase.Terminal() {
		return false
	}
	prev := s.phase
	s.phase = phase
	s.kind = kind
	s.finishedAt = time.Now()

	if kind != KindNone {
		s.err = &RequestError{ID: s.id, Kind: kind, Op: op, Err: err}
		s.statusCode = 0
	}

	if s.sink != nil {
		if kind == KindNone {
			if cerr := s.sink.Close(); cerr != nil {
				s.kind = KindSink
				s.err = &RequestError{ID: s.id, Kind: KindSink, Op: "close sink", Err: cerr}
				s.statusCode = 0
			}
		} else if a, ok := s.sink.(aborter); ok {
			_ = a.Abort()
		} else {
			_ = s.sink.Close()
		}
		s.sink = nil
	}

	if s.slot != nil {
		conn := s.slot.conn
		switch {
		case phase == PhaseTerminated:
			_ = conn.Close()
			s.slot.conn = s.pool.factory()
		case phase == PhaseCancelled:
			if s.sentRequest {
				_ = conn.Close()
			}
		case kind != KindNone:
			if prev != PhaseCreated {
				_ = conn.Close()
			}
		case !s.keepAlive:
			_ = conn.Close()
		}
	}

	if prev != PhaseCreated {
		s.pool.deactivate(s.id)
	}
	if err := s.releaseLocked(); err != nil {
		s.pool.logger.Error("releasing slot failed", "request_id", s.id, "error", err.Error())
	}
	close(s.done)
	return true
}

// complete reports a finished state to the pool. Called without locks held.
func (s *RequestState) complete() {
	s.pool.completed(s.Result())
}

// Wait blocks until the request finishes or ctx ends, returning the
// current Result either way.
func (s *RequestState) Wait(ctx context.Context) (Result, error) {
	ready := s.ready
	for {
		select {
		case <-s.done:
			return s.Result(), nil
		case <-ready:
			ready = nil
			s.claim()
		case <-ctx.Done():
			return s.Result(), ctx.Err()
		}
	}
}

// Result returns a snapshot of the request's outcome so far.
func (s *RequestState) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{
		ID:            s.id,
		Phase:         s.phase,
		StatusCode:    s.statusCode,
		OutputPath:    s.outputPath,
		BytesReceived: s.bytesReceived,
		TotalBytes:    s.totalBytes,
		Kind:          s.kind,
		Err:           s.err,
		StartedAt:     s.startedAt,
		FinishedAt:    s.finishedAt,
	}
	if s.header != nil {
		res.Header = s.header.Clone()
	}
	if s.body != nil {
		res.Body = append([]byte(nil), s.body...)
	}
	return res
}

// malformed tags a wire error as ErrMalformedResponse. Wire errors already
// match it, so they pass through unchanged.
func malformed(err error) error {
	if errors.Is(err, ErrMalformedResponse) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
}

func headerFromWire(fields []wire.Field) *Header {
	h := &Header{fields: make([]HeaderField, 0, len(fields))}
	for _, f := range fields {
		h.fields = append(h.fields, HeaderField{Key: f.Key, Value: f.Value})
	}
	return h
}
