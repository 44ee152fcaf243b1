package httppool

import "sync"

// Waiter is a queued claim on the next free slot.
//
// A Waiter is resolved at most once, either with a slot or with an error
// when the pool closes. Resolution and cancellation race; the mutex decides
// which one wins, and a slot delivered just before a cancel is handed back
// by cancel so the pool can pass it on.
type Waiter struct {
	id    uint64
	owner *RequestState

	// ready is closed once the waiter was resolved or cancelled.
	ready chan struct{}

	mu        sync.Mutex
	done      bool
	cancelled bool
	slot      *Slot
	err       error
}

func newWaiter(id uint64) *Waiter {
	return &Waiter{id: id, ready: make(chan struct{})}
}

// resolve delivers slot. It fails with ErrDoubleResolve if the waiter was
// already resolved or cancelled.
func (w *Waiter) resolve(slot *Slot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return ErrDoubleResolve
	}
	w.done = true
	w.slot = slot
	close(w.ready)
	return nil
}

// fail resolves the waiter with err instead of a slot.
func (w *Waiter) fail(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return ErrDoubleResolve
	}
	w.done = true
	w.err = err
	close(w.ready)
	return nil
}

// cancel marks the waiter as no longer wanting a slot. If a slot had
// already been delivered it is returned and the waiter forgets it.
func (w *Waiter) cancel() *Slot {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.done {
		w.done = true
		w.cancelled = true
		close(w.ready)
		return nil
	}
	if w.cancelled {
		return nil
	}
	w.cancelled = true
	slot := w.slot
	w.slot = nil
	return slot
}

// take returns the delivered slot or error, transferring slot ownership to
// the caller. ok is false while the waiter is unresolved.
func (w *Waiter) take() (slot *Slot, ok bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.done || w.cancelled {
		return nil, false, nil
	}
	slot, w.slot = w.slot, nil
	return slot, true, w.err
}

// waiterQueue is a FIFO of waiters.
//
// It is split into two stages, head[headPos:] and tail: popFront advances
// headPos and pushBack appends to tail. When head runs dry the stages swap.
type waiterQueue struct {
	head    []*Waiter
	headPos int
	tail    []*Waiter
}

func (q *waiterQueue) len() int {
	return len(q.head) - q.headPos + len(q.tail)
}

func (q *waiterQueue) pushBack(w *Waiter) {
	q.tail = append(q.tail, w)
}

func (q *waiterQueue) popFront() *Waiter {
	if q.headPos >= len(q.head) {
		if len(q.tail) == 0 {
			return nil
		}
		q.head, q.headPos, q.tail = q.tail, 0, q.head[:0]
	}
	w := q.head[q.headPos]
	q.head[q.headPos] = nil
	q.headPos++
	return w
}

// remove deletes w from the queue and reports whether it was queued.
func (q *waiterQueue) remove(w *Waiter) bool {
	for i := q.headPos; i < len(q.head); i++ {
		if q.head[i] == w {
			copy(q.head[i:], q.head[i+1:])
			q.head[len(q.head)-1] = nil
			q.head = q.head[:len(q.head)-1]
			return true
		}
	}
	for i, qw := range q.tail {
		if qw == w {
			copy(q.tail[i:], q.tail[i+1:])
			q.tail[len(q.tail)-1] = nil
			q.tail = q.tail[:len(q.tail)-1]
			return true
		}
	}
	return false
}

// drain removes and returns all queued waiters in order.
func (q *waiterQueue) drain() []*Waiter {
	out := make([]*Waiter, 0, q.len())
	for w := q.popFront(); w != nil; w = q.popFront() {
		out = append(out, w)
	}
	return out
}
