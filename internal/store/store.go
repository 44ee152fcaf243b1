package store

import "time"

// Record is the storage representation of one request's progress or outcome.
//
// Record is optimized for JSON serialization (used by the REST API and SSE).
// It is decoupled from the pool's result type so the API can evolve
// independently.
type Record struct {
	// RequestID is the pool-assigned request id and the storage key.
	RequestID uint64 `json:"request_id"`

	// SubmissionID correlates a record with the API call that created it.
	SubmissionID string `json:"submission_id,omitempty"`

	// Name is an optional caller-chosen label.
	Name string `json:"name,omitempty"`

	// Method is the HTTP method sent.
	Method string `json:"method"`

	// URL is the requested URL.
	URL string `json:"url"`

	// Phase is the request's lifecycle phase (e.g., "created", "streaming_body", "done").
	Phase string `json:"phase"`

	// StatusCode is the response status, 0 on failure or before the head arrived.
	StatusCode int `json:"status_code"`

	// BytesReceived counts body bytes received so far.
	BytesReceived int64 `json:"bytes_received"`

	// TotalBytes is the declared body length, -1 when unknown.
	TotalBytes int64 `json:"total_bytes"`

	// OutputPath is the file the body is written to, if any.
	OutputPath string `json:"output_path,omitempty"`

	// LatencyMs is the time from connect to completion in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`

	// Kind classifies a failure (e.g., "connect_error"). Empty on success.
	Kind string `json:"kind,omitempty"`

	// Error contains the error message if the request failed.
	Error *string `json:"error"`
}

// Store defines the interface for storing and subscribing to request records.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows progress to be pushed to connected clients (e.g., via
// Server-Sent Events).
type Store interface {
	// Update stores a record and notifies all subscribers.
	// Records are keyed by RequestID, so later updates replace earlier ones.
	Update(record Record)

	// Get returns the record for a request id.
	Get(requestID uint64) (Record, bool)

	// GetAll returns all stored records ordered by request id.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []Record

	// Subscribe returns a channel that receives record updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Record

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Record)
}
