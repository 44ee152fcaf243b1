package store

import (
	"slices"
	"sync"
)

// DefaultLimit is the number of records a MemoryStore keeps when created
// with a non-positive limit.
const DefaultLimit = 1000

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore keeps the most recent records, keyed by request id. Once the
// limit is exceeded the record with the lowest id is evicted.
//
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is dropped
// for that subscriber to prevent blocking the entire system.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[uint64]Record
	limit       int
	subscribers map[chan Record]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] holding up to limit records.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{
		records:     make(map[uint64]Record),
		limit:       limit,
		subscribers: make(map[chan Record]struct{}),
	}
}

// Update stores a [Record] and notifies all subscribers.
func (m *MemoryStore) Update(record Record) {
	m.mu.Lock()
	m.records[record.RequestID] = record
	for len(m.records) > m.limit {
		oldest := record.RequestID
		for id := range m.records {
			if id < oldest {
				oldest = id
			}
		}
		delete(m.records, oldest)
	}
	m.mu.Unlock()

	m.notifySubscribers(record)
}

// Get returns the record stored for requestID.
func (m *MemoryStore) Get(requestID uint64) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[requestID]
	return record, ok
}

// GetAll returns a snapshot of all stored records ordered by request id.
func (m *MemoryStore) GetAll() []Record {
	m.mu.RLock()
	records := make([]Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}
	m.mu.RUnlock()

	slices.SortFunc(records, func(a, b Record) int {
		switch {
		case a.RequestID < b.RequestID:
			return -1
		case a.RequestID > b.RequestID:
			return 1
		default:
			return 0
		}
	})
	return records
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new updates are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Record {
	ch := make(chan Record, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Record) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the record to all active subscribers without
// blocking; a full subscriber buffer drops the message.
func (m *MemoryStore) notifySubscribers(record Record) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- record:
		default:
			// subscriber is slow, drop the message
		}
	}
}
