package httppool

import "time"

// Phase is the lifecycle position of a [RequestState].
type Phase int

const (
	// PhaseCreated is the initial phase. Configuration is only accepted here.
	PhaseCreated Phase = iota
	// PhaseConnecting means a connection attempt is in progress.
	PhaseConnecting
	// PhaseConnected means the connection is up and the request is ready to send.
	PhaseConnected
	// PhaseSent means the request was written and no response bytes arrived yet.
	PhaseSent
	// PhaseReceivingHeaders means the response head is being parsed.
	PhaseReceivingHeaders
	// PhaseStreamingBody means the response body is being received.
	PhaseStreamingBody
	// PhaseDone means the request finished, successfully or with an error.
	PhaseDone
	// PhaseCancelled means the request was cancelled.
	PhaseCancelled
	// PhaseTerminated means the request was forcibly terminated.
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseSent:
		return "sent"
	case PhaseReceivingHeaders:
		return "receiving_headers"
	case PhaseStreamingBody:
		return "streaming_body"
	case PhaseDone:
		return "done"
	case PhaseCancelled:
		return "cancelled"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether p is Done, Cancelled or Terminated.
func (p Phase) Terminal() bool {
	return p >= PhaseDone
}

// Result is the observable outcome of a request.
//
// Result values are snapshots; Header and Body are copies and may be
// modified by the caller.
type Result struct {
	// ID is the request id assigned by the pool.
	ID uint64 `json:"id"`

	// Phase is the phase at the time of the snapshot.
	Phase Phase `json:"-"`

	// StatusCode is the HTTP status, or 0 if the request failed or no
	// response head arrived yet.
	StatusCode int `json:"status_code"`

	// Header holds the response header fields in arrival order.
	Header *Header `json:"-"`

	// Body holds the response body when no output path or sink was set.
	Body []byte `json:"-"`

	// OutputPath is the file the body was written to, if any.
	OutputPath string `json:"output_path,omitempty"`

	// BytesReceived counts decoded body bytes.
	BytesReceived int64 `json:"bytes_received"`

	// TotalBytes is the declared body length, or -1 when unknown.
	TotalBytes int64 `json:"total_bytes"`

	// Kind classifies the failure. KindNone on success.
	Kind Kind `json:"-"`

	// Err is a *RequestError on failure, nil on success.
	Err error `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Completed reports whether the request reached Done without an error.
func (r Result) Completed() bool {
	return r.Phase == PhaseDone && r.Err == nil
}

// Latency returns the time from Connect to the terminal phase, or zero if
// the request has not finished or never connected.
func (r Result) Latency() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
