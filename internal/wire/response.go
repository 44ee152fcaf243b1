package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"
)

// MaxHeadSize bounds the status line plus all header fields.
const MaxHeadSize = 64 << 10

var (
	// ErrHeadTooLarge is returned when the response head exceeds MaxHeadSize.
	ErrHeadTooLarge = errors.New("response head too large")

	// ErrMalformed is returned for syntactically invalid response heads.
	ErrMalformed = errors.New("malformed response")
)

// Head is a parsed response status line and header block.
type Head struct {
	Proto  string
	Code   int
	Reason string
	Fields []Field
}

// Get returns the first value of the named field, matched case-insensitively.
func (h *Head) Get(key string) (string, bool) {
	for _, f := range h.Fields {
		if strcomp.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return "", false
}

// KeepAlive reports whether the connection may be reused after the body.
func (h *Head) KeepAlive() bool {
	conn, _ := h.Get("Connection")
	if h.Proto == "HTTP/1.0" {
		return containsToken(conn, "keep-alive")
	}
	return !containsToken(conn, "close")
}

// ResponseParser accumulates bytes until a full response head is available.
//
// It is fed whatever the connection had available on each tick, so the head
// may arrive split at arbitrary points.
type ResponseParser struct {
	buf  []byte
	head Head
	done bool
}

// NewResponseParser returns an empty parser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// Feed consumes data. Once the head is complete it returns done=true and the
// bytes following the head, which belong to the body.
func (p *ResponseParser) Feed(data []byte) (done bool, rest []byte, err error) {
	if p.done {
		return true, data, nil
	}

	// only rescan the tail that could complete a terminator
	from := len(p.buf) - 3
	if from < 0 {
		from = 0
	}
	p.buf = append(p.buf, data...)

	end, sep := headEnd(p.buf, from)
	if end == -1 {
		if len(p.buf) > MaxHeadSize {
			return false, nil, ErrHeadTooLarge
		}
		return false, nil, nil
	}
	if end > MaxHeadSize {
		return false, nil, ErrHeadTooLarge
	}

	head, err := parseHead(p.buf[:end])
	if err != nil {
		return false, nil, err
	}

	rest = append([]byte(nil), p.buf[end+sep:]...)
	p.head = head
	p.done = true
	p.buf = nil
	return true, rest, nil
}

// Done reports whether the head has been fully parsed.
func (p *ResponseParser) Done() bool {
	return p.done
}

// Head returns the parsed head. Valid only after Feed reported done.
func (p *ResponseParser) Head() *Head {
	return &p.head
}

// Buffered returns the number of head bytes held so far.
func (p *ResponseParser) Buffered() int {
	return len(p.buf)
}

// headEnd locates the blank line ending the head, accepting bare LF.
func headEnd(buf []byte, from int) (end, sep int) {
	for i := from; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		if i+1 < len(buf) && buf[i+1] == '\n' {
			return i + 1, 1
		}
		if i+2 < len(buf) && buf[i+1] == '\r' && buf[i+2] == '\n' {
			return i + 1, 2
		}
	}
	return -1, 0
}

func parseHead(raw []byte) (Head, error) {
	var head Head

	lines := bytes.Split(raw, []byte{'\n'})
	statusLine := strings.TrimRight(string(lines[0]), "\r")

	proto, rest, ok := strings.Cut(statusLine, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return head, fmt.Errorf("%w: bad status line %q", ErrMalformed, statusLine)
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 999 {
		return head, fmt.Errorf("%w: bad status code %q", ErrMalformed, codeStr)
	}

	head.Proto = proto
	head.Code = code
	head.Reason = reason

	for _, line := range lines[1:] {
		l := strings.TrimRight(string(line), "\r")
		if l == "" {
			continue
		}
		key, value, ok := strings.Cut(l, ":")
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return head, fmt.Errorf("%w: bad header line %q", ErrMalformed, l)
		}
		head.Fields = append(head.Fields, Field{Key: key, Value: strings.TrimSpace(value)})
	}

	return head, nil
}

func containsToken(list, token string) bool {
	for _, part := range strings.Split(list, ",") {
		if strcomp.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
