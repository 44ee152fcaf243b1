package wire

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"
)

// ErrTruncated is returned when the stream ends before the body is complete.
var ErrTruncated = errors.New("truncated body")

// Framing describes how the end of a response body is detected.
type Framing int

const (
	// FramingNone means the response carries no body.
	FramingNone Framing = iota
	// FramingLength means the body length is given by Content-Length.
	FramingLength
	// FramingChunked means the body uses chunked transfer coding.
	FramingChunked
	// FramingClose means the body runs until the server closes the connection.
	FramingClose
)

func (f Framing) String() string {
	switch f {
	case FramingNone:
		return "none"
	case FramingLength:
		return "length"
	case FramingChunked:
		return "chunked"
	case FramingClose:
		return "close"
	default:
		return "unknown"
	}
}

// BodyFraming determines the framing of the response to a request made with
// method. The returned length is the declared Content-Length, or -1.
func BodyFraming(method string, h *Head) (Framing, int64, error) {
	if method == "HEAD" || (h.Code >= 100 && h.Code < 200) || h.Code == 204 || h.Code == 304 {
		return FramingNone, 0, nil
	}

	if te, ok := h.Get("Transfer-Encoding"); ok {
		codings := strings.Split(te, ",")
		if containsToken(codings[len(codings)-1], "chunked") {
			return FramingChunked, -1, nil
		}
		return FramingClose, -1, nil
	}

	var (
		length int64 = -1
		seen   bool
	)
	for _, f := range h.Fields {
		if !strcomp.EqualFold(f.Key, "Content-Length") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(f.Value), 10, 64)
		if err != nil || n < 0 {
			return FramingNone, 0, fmt.Errorf("%w: bad content-length %q", ErrMalformed, f.Value)
		}
		if seen && n != length {
			return FramingNone, 0, fmt.Errorf("%w: conflicting content-length values", ErrMalformed)
		}
		length, seen = n, true
	}

	switch {
	case !seen:
		return FramingClose, -1, nil
	case length == 0:
		return FramingNone, 0, nil
	default:
		return FramingLength, length, nil
	}
}

// BodyDecoder turns raw connection bytes into body bytes.
type BodyDecoder interface {
	// Decode consumes data and passes decoded body bytes to emit. It reports
	// done once the body is complete; bytes after the end are discarded.
	Decode(data []byte, emit func([]byte) error) (done bool, err error)

	// EOF is called when the connection reports end of stream before Decode
	// reported done. It returns nil if that ends the body cleanly.
	EOF() error
}

// NewBodyDecoder returns the decoder for framing. length is only used with
// FramingLength.
func NewBodyDecoder(framing Framing, length int64) BodyDecoder {
	switch framing {
	case FramingLength:
		return &lengthDecoder{remaining: length, declared: length}
	case FramingChunked:
		return &chunkedDecoder{}
	case FramingClose:
		return closeDecoder{}
	default:
		return noneDecoder{}
	}
}

type lengthDecoder struct {
	remaining, declared int64
}

func (d *lengthDecoder) Decode(data []byte, emit func([]byte) error) (bool, error) {
	if int64(len(data)) > d.remaining {
		data = data[:d.remaining]
	}
	if len(data) > 0 {
		if err := emit(data); err != nil {
			return false, err
		}
		d.remaining -= int64(len(data))
	}
	return d.remaining == 0, nil
}

func (d *lengthDecoder) EOF() error {
	if d.remaining == 0 {
		return nil
	}
	return fmt.Errorf("%w: received %d of %d bytes", ErrTruncated, d.declared-d.remaining, d.declared)
}

type chunkedDecoder struct {
	parser chunkedParser
}

func (d *chunkedDecoder) Decode(data []byte, emit func([]byte) error) (bool, error) {
	for len(data) > 0 {
		chunk, extra, err := d.parser.Parse(data)
		if len(chunk) > 0 {
			if emitErr := emit(chunk); emitErr != nil {
				return false, emitErr
			}
		}
		switch err {
		case nil:
		case io.EOF:
			return true, nil
		default:
			return false, fmt.Errorf("%w: chunked body: %v", ErrMalformed, err)
		}
		data = extra
	}
	return false, nil
}

func (d *chunkedDecoder) EOF() error {
	return fmt.Errorf("%w: missing last chunk", ErrTruncated)
}

type closeDecoder struct{}

func (closeDecoder) Decode(data []byte, emit func([]byte) error) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	return false, emit(data)
}

func (closeDecoder) EOF() error { return nil }

type noneDecoder struct{}

func (noneDecoder) Decode([]byte, func([]byte) error) (bool, error) { return true, nil }

func (noneDecoder) EOF() error { return nil }
