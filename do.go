package httppool

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Request describes what a [RequestState] sends.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string

	// URL is the absolute http or https URL. Only used by [Pool.Do]; a
	// RequestState is pointed at its host with [RequestState.Connect].
	URL string

	// Target is the request-target (path and query). Empty means "/", or
	// the path of URL with [Pool.Do].
	Target string

	// Header holds additional request header fields. Host, User-Agent and
	// Content-Length are filled in when absent.
	Header *Header

	// Body is sent after the header.
	Body []byte

	// OutputPath streams the response body to a file instead of memory.
	// Only used by [Pool.Do].
	OutputPath string

	// Timeout bounds the whole request in [Pool.Do]. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration
}

// Do runs req to completion on a pool slot.
//
// Do waits for a slot, connects, and waits until the request finishes. A
// [Driver] must be ticking the pool. If ctx ends first the request is
// terminated and ctx.Err() is returned together with the partial Result.
// A failed request returns its *RequestError.
func (p *Pool) Do(ctx context.Context, req Request) (Result, error) {
	st, target, err := p.prepare(req)
	if err != nil {
		if st == nil {
			return Result{}, err
		}
		return st.Result(), err
	}
	return p.run(ctx, st, target, req.Timeout)
}

// prepare parses req.URL and configures a new RequestState for it. The
// returned state is nil only when the URL is rejected.
func (p *Pool) prepare(req Request) (*RequestState, Target, error) {
	target, err := ParseTarget(req.URL)
	if err != nil {
		return nil, Target{}, err
	}
	if req.Target == "" {
		req.Target = target.RequestURI
	}

	st := p.NewRequestState()
	if err := st.SetRequest(req); err != nil {
		st.Cancel()
		return st, target, err
	}
	if req.OutputPath != "" {
		if err := st.SetOutputPath(req.OutputPath); err != nil {
			st.Cancel()
			return st, target, err
		}
	}
	return st, target, nil
}

// run waits for st's slot, connects it to target and waits for the outcome.
func (p *Pool) run(ctx context.Context, st *RequestState, target Target, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := st.WaitReady(ctx); err != nil {
		return st.Result(), err
	}
	if err := st.Connect(target.Host, target.Port, target.TLS); err != nil {
		st.Cancel()
		return st.Result(), err
	}

	res, err := st.Wait(ctx)
	if err != nil {
		st.Terminate()
		return st.Result(), err
	}
	return res, res.Err
}

// Get is shorthand for Do with a GET request to rawURL.
func (p *Pool) Get(ctx context.Context, rawURL string) (Result, error) {
	return p.Do(ctx, Request{Method: "GET", URL: rawURL})
}

// Target is the connection endpoint and request-target of a URL.
type Target struct {
	Host       string
	Port       int
	TLS        bool
	RequestURI string
}

// ParseTarget splits an absolute http or https URL into what
// [RequestState.Connect] and [Request.Target] need. Missing ports default
// to 80 and 443.
func ParseTarget(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("parse url: %w", err)
	}

	var t Target
	switch u.Scheme {
	case "http":
		t.Port = 80
	case "https":
		t.Port, t.TLS = 443, true
	default:
		return Target{}, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	t.Host = u.Hostname()
	if t.Host == "" {
		return Target{}, fmt.Errorf("url %q has no host", rawURL)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("invalid port %q", p)
		}
		t.Port = port
	}
	t.RequestURI = u.RequestURI()
	return t, nil
}
