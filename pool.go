package httppool

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

const defaultCapacity = 5

// Pool hands a bounded set of reusable connections to request states.
//
// When every slot is borrowed, new request states queue as waiters and are
// served in arrival order as slots come back. The free list, waiter queue
// and active set are guarded by a single mutex, so all Pool methods are safe
// for concurrent use.
//
// A Pool does not advance requests by itself; a [Driver] (or any caller of
// [Driver.Tick]) must tick it.
type Pool struct {
	factory     ConnectionFactory
	sinkFactory SinkFactory
	logger      *slog.Logger
	strict      bool
	callbacks   []func(Result)

	mu         sync.Mutex
	capacity   int
	created    int
	nextSlotID uint64
	nextID     uint64
	free       []*Slot
	waiters    waiterQueue
	active     map[uint64]*RequestState
	closed     bool

	acquired uint64
	released uint64
	handoffs uint64
	retired  uint64
}

// Stats is a point-in-time view of a [Pool].
type Stats struct {
	Capacity int `json:"capacity"`
	Created  int `json:"created"`
	Free     int `json:"free"`
	Borrowed int `json:"borrowed"`
	Waiting  int `json:"waiting"`
	Active   int `json:"active"`

	// Acquired counts slots handed out directly from the free list or
	// freshly created.
	Acquired uint64 `json:"acquired"`

	// Released counts successful slot releases.
	Released uint64 `json:"released"`

	// Handoffs counts releases that went straight to a waiter.
	Handoffs uint64 `json:"handoffs"`

	// Retired counts slots closed because capacity was lowered.
	Retired uint64 `json:"retired"`
}

// New creates a [Pool] with the given options.
//
// Defaults:
//   - Capacity: 5
//   - Connections: TCP/TLS via [NetConnectionFactory]
//   - Sinks: [FileSinkFactory]
//   - Logger: slog.Default()
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Pool, error) {
	cfg := &poolConfig{
		capacity: defaultCapacity,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.factory == nil {
		cfg.factory = NetConnectionFactory(DialOptions{})
	}
	if cfg.sinkFactory == nil {
		cfg.sinkFactory = FileSinkFactory
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		factory:     cfg.factory,
		sinkFactory: cfg.sinkFactory,
		logger:      logger,
		strict:      cfg.strict,
		callbacks:   cfg.callbacks,
		capacity:    cfg.capacity,
		active:      make(map[uint64]*RequestState),
	}, nil
}

// Capacity returns the current slot ceiling.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// SetCapacity changes the slot ceiling.
//
// Raising it immediately creates slots for queued waiters. Lowering it never
// closes in-use slots; surplus slots are retired as they are released.
func (p *Pool) SetCapacity(n int) error {
	if n < 1 {
		return errors.New("capacity must be at least 1")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.capacity = n
	for p.waiters.len() > 0 && p.created < p.capacity {
		slot := p.newSlotLocked()
		p.acquired++
		if !p.deliverLocked(slot) {
			slot.state = SlotIdle
			p.free = append(p.free, slot)
		}
	}

	p.logger.Debug("pool capacity changed", "capacity", n, "created", p.created)
	return nil
}

// acquireSlot pops a free slot or creates one below capacity.
func (p *Pool) acquireSlot() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked()
}

func (p *Pool) acquireLocked() (*Slot, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}

	if n := len(p.free); n > 0 {
		slot := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		slot.state = SlotInUse
		slot.uses++
		p.acquired++
		return slot, nil
	}

	if p.created < p.capacity {
		p.acquired++
		return p.newSlotLocked(), nil
	}

	return nil, ErrPoolExhausted
}

func (p *Pool) newSlotLocked() *Slot {
	p.nextSlotID++
	p.created++
	slot := &Slot{
		id:    p.nextSlotID,
		pool:  p,
		conn:  p.factory(),
		state: SlotInUse,
		uses:  1,
	}
	p.logger.Debug("slot created", "slot_id", slot.id, "created", p.created, "capacity", p.capacity)
	return slot
}

// NewRequestState returns a request state with a fresh id.
//
// If a slot is available the state is attached and [RequestState.Ready] is
// already closed. Otherwise the state is queued as a waiter and becomes
// usable once Ready is closed. On a closed pool the returned state is
// already finished with [ErrPoolClosed] and completion callbacks have run.
func (p *Pool) NewRequestState() *RequestState {
	p.mu.Lock()

	p.nextID++
	st := newRequestState(p, p.nextID)

	slot, err := p.acquireLocked()
	closed := false
	switch {
	case err == nil:
		st.attach(slot)
	case errors.Is(err, ErrPoolClosed):
		st.failUnattached(ErrPoolClosed)
		closed = true
	default:
		w := newWaiter(st.id)
		w.owner = st
		p.waiters.pushBack(w)
		st.queue(w)
		p.logger.Debug("request queued", "request_id", st.id, "waiting", p.waiters.len())
	}
	p.mu.Unlock()

	if closed {
		st.complete()
	}
	return st
}

// TryNewRequestState is like [Pool.NewRequestState] but returns
// [ErrPoolExhausted] instead of queueing when no slot is available.
func (p *Pool) TryNewRequestState() (*RequestState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.acquireLocked()
	if err != nil {
		return nil, err
	}

	p.nextID++
	st := newRequestState(p, p.nextID)
	st.attach(slot)
	return st, nil
}

// release returns slot to the pool. The oldest waiter, if any, receives it
// directly; otherwise it goes back to the free list.
func (p *Pool) release(slot *Slot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot.pool != p {
		return p.violationLocked(ErrForeignSlot, slot)
	}
	if slot.state != SlotInUse {
		return p.violationLocked(ErrDoubleRelease, slot)
	}
	p.released++

	if p.closed || (p.created > p.capacity && p.waiters.len() == 0) {
		p.retireLocked(slot)
		return nil
	}

	if p.deliverLocked(slot) {
		slot.uses++
		return nil
	}

	slot.state = SlotIdle
	p.free = append(p.free, slot)
	return nil
}

// deliverLocked hands slot to the oldest waiter and reports whether one
// took it.
func (p *Pool) deliverLocked(slot *Slot) bool {
	for w := p.waiters.popFront(); w != nil; w = p.waiters.popFront() {
		if err := w.resolve(slot); err != nil {
			// cancelled waiters leave the queue under p.mu, so this is a bug
			_ = p.violationLocked(err, slot)
			continue
		}
		slot.state = SlotInUse
		p.handoffs++
		p.logger.Debug("slot handed to waiter", "slot_id", slot.id, "request_id", w.id)
		return true
	}
	return false
}

func (p *Pool) retireLocked(slot *Slot) {
	slot.state = SlotClosed
	p.created--
	p.retired++
	if err := slot.conn.Close(); err != nil {
		p.logger.Debug("closing retired slot failed", "slot_id", slot.id, "error", err.Error())
	}
}

// cancelWaiter removes w from the queue. A slot delivered to w before the
// cancel is released again so it reaches the next waiter.
func (p *Pool) cancelWaiter(w *Waiter) {
	p.mu.Lock()
	p.waiters.remove(w)
	slot := w.cancel()
	p.mu.Unlock()

	if slot != nil {
		_ = p.release(slot)
	}
}

func (p *Pool) violationLocked(err error, slot *Slot) error {
	p.logger.Error("pool invariant violated",
		"error", err.Error(),
		"slot_id", slot.id,
		"slot_state", slot.state.String(),
	)
	if p.strict {
		panic(fmt.Sprintf("httppool: %v (slot %d)", err, slot.id))
	}
	return err
}

// activate registers st for ticking. It fails with ErrPoolClosed once
// Close has started, so no request starts I/O on a closed pool.
func (p *Pool) activate(st *RequestState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.active[st.id] = st
	return nil
}

func (p *Pool) deactivate(id uint64) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

// activeSnapshot returns the active request states ordered by id.
func (p *Pool) activeSnapshot() []*RequestState {
	p.mu.Lock()
	states := make([]*RequestState, 0, len(p.active))
	for _, st := range p.active {
		states = append(states, st)
	}
	p.mu.Unlock()

	slices.SortFunc(states, func(a, b *RequestState) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return states
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Capacity: p.capacity,
		Created:  p.created,
		Free:     len(p.free),
		Borrowed: p.created - len(p.free),
		Waiting:  p.waiters.len(),
		Active:   len(p.active),
		Acquired: p.acquired,
		Released: p.released,
		Handoffs: p.handoffs,
		Retired:  p.retired,
	}
}

// Close shuts the pool down: idle slots are closed, queued requests end as
// Cancelled with [ErrPoolClosed] and active requests are terminated.
// Requests that hold a slot but have not connected yet fail in Connect.
// Borrowed slots are closed as their requests release them. Close is
// idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	waiters := p.waiters.drain()
	for _, slot := range p.free {
		p.retireLocked(slot)
	}
	p.free = nil
	p.mu.Unlock()

	for _, w := range waiters {
		_ = w.fail(ErrPoolClosed)
		if w.owner != nil {
			w.owner.claim()
		}
	}
	for _, st := range p.activeSnapshot() {
		st.terminateWith(KindTerminated, "close", ErrPoolClosed)
	}

	p.logger.Info("pool closed", "cancelled_waiters", len(waiters))
	return nil
}

// completed logs a finished request and runs completion callbacks.
func (p *Pool) completed(res Result) {
	attrs := []any{
		"request_id", res.ID,
		"phase", res.Phase.String(),
		"status_code", res.StatusCode,
		"bytes", res.BytesReceived,
		"latency_ms", res.Latency().Milliseconds(),
	}
	if res.Err != nil {
		p.logger.Warn("request failed", append(attrs, "kind", res.Kind.String(), "error", res.Err.Error())...)
	} else {
		p.logger.Debug("request completed", attrs...)
	}

	for _, cb := range p.callbacks {
		invokeCallbackSafe(cb, res, p.logger)
	}
}

// invokeCallbackSafe calls a completion callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Result), res Result, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("completion callback panicked",
				"panic", r,
				"request_id", res.ID,
			)
		}
	}()
	cb(res)
}
