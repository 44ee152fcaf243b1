package httppool

// SlotState is the ownership state of a [Slot].
type SlotState int

const (
	// SlotIdle means the slot sits in the pool's free list.
	SlotIdle SlotState = iota
	// SlotInUse means exactly one request state owns the slot.
	SlotInUse
	// SlotClosed means the slot was retired and its connection closed.
	SlotClosed
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotInUse:
		return "in_use"
	case SlotClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Slot is one reusable connection managed by a [Pool].
//
// Slot state is guarded by the owning pool's mutex; the connection itself
// is only touched by the request state currently holding the slot.
type Slot struct {
	id    uint64
	pool  *Pool
	conn  Connection
	state SlotState
	uses  int
}
