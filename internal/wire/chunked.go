package wire

import (
	"bytes"
	"errors"
	"io"
)

// errBadChunk is returned for chunked bodies that violate RFC 9112 §7.1.
var errBadChunk = errors.New("bad chunk")

// maxChunkSizeDigits caps a chunk size at 4 GiB.
const maxChunkSizeDigits = 8

type chunkState uint8

const (
	chunkSize chunkState = iota
	chunkExt
	chunkSizeLF
	chunkData
	chunkDataEnd
	chunkDataLF
	chunkTrailer
	chunkTrailerLF
	chunkTrailerField
)

// chunkedParser decodes chunked transfer coding incrementally. Trailer
// fields are accepted whether or not the response announced them, and
// skipped.
type chunkedParser struct {
	state     chunkState
	digits    uint8
	remaining uint64
}

// Parse consumes data and returns the next piece of chunk data, if any,
// plus the bytes it did not consume. io.EOF reports the end of the body;
// extra then holds whatever followed it.
func (c *chunkedParser) Parse(data []byte) (chunk, extra []byte, err error) {
	for len(data) > 0 {
		switch c.state {
		case chunkSize:
			ch := data[0]
			switch {
			case ch == '\r':
				c.state = chunkSizeLF
			case ch == '\n':
				if err := c.endSize(); err != nil {
					return nil, nil, err
				}
			case ch == ';' || ch == ' ' || ch == '\t':
				c.state = chunkExt
			default:
				v, ok := unhex(ch)
				if !ok || c.digits == maxChunkSizeDigits {
					return nil, nil, errBadChunk
				}
				c.remaining = c.remaining<<4 | uint64(v)
				c.digits++
			}
			data = data[1:]

		case chunkExt:
			// extensions are ignored
			i := bytes.IndexByte(data, '\n')
			if i == -1 {
				return nil, nil, nil
			}
			data = data[i+1:]
			if err := c.endSize(); err != nil {
				return nil, nil, err
			}

		case chunkSizeLF:
			if data[0] != '\n' {
				return nil, nil, errBadChunk
			}
			data = data[1:]
			if err := c.endSize(); err != nil {
				return nil, nil, err
			}

		case chunkData:
			n := min(c.remaining, uint64(len(data)))
			c.remaining -= n
			if c.remaining == 0 {
				c.state = chunkDataEnd
			}
			return data[:n], data[n:], nil

		case chunkDataEnd:
			switch data[0] {
			case '\r':
				c.state = chunkDataLF
			case '\n':
				c.state = chunkSize
			default:
				return nil, nil, errBadChunk
			}
			data = data[1:]

		case chunkDataLF:
			if data[0] != '\n' {
				return nil, nil, errBadChunk
			}
			c.state = chunkSize
			data = data[1:]

		case chunkTrailer:
			switch data[0] {
			case '\r':
				c.state = chunkTrailerLF
				data = data[1:]
			case '\n':
				c.reset()
				return nil, data[1:], io.EOF
			default:
				c.state = chunkTrailerField
			}

		case chunkTrailerLF:
			if data[0] != '\n' {
				return nil, nil, errBadChunk
			}
			c.reset()
			return nil, data[1:], io.EOF

		case chunkTrailerField:
			i := bytes.IndexByte(data, '\n')
			if i == -1 {
				return nil, nil, nil
			}
			c.state = chunkTrailer
			data = data[i+1:]
		}
	}
	return nil, nil, nil
}

// endSize finishes a chunk-size line.
func (c *chunkedParser) endSize() error {
	if c.digits == 0 {
		return errBadChunk
	}
	c.digits = 0
	if c.remaining == 0 {
		c.state = chunkTrailer
	} else {
		c.state = chunkData
	}
	return nil
}

func (c *chunkedParser) reset() {
	*c = chunkedParser{}
}

func unhex(ch byte) (byte, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'a' && ch <= 'f':
		return ch - 'a' + 10, true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	default:
		return 0, false
	}
}
