package resp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrNeedMoreData is returned by Decode if the buffer holds an incomplete frame.
// It is not a failure: the caller should read more bytes and try again.
var ErrNeedMoreData = errors.New("resp: need more data")

// ProtocolError reports a malformed frame. The decoder does not advance past
// a malformed frame, the caller decides whether to close the connection.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "Protocol error: " + e.Msg
}

func newProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// --------------------------------------------------------------------------
// Limits
// --------------------------------------------------------------------------

const (
	maxLineLength   = 64 * 1024         // longest accepted simple string / length line
	maxBulkLength   = 512 * 1024 * 1024 // largest accepted bulk string
	maxArrayLength  = 1024 * 1024       // most elements accepted in one array
	minElementSize  = 3                 // shortest encoded value, e.g. "+\r\n"
	maxNestingDepth = 32
	defaultReadSize = 16 * 1024
)

// --------------------------------------------------------------------------
// Stateless decoding
// --------------------------------------------------------------------------

// Decode decodes exactly one value from the start of buf.
// It returns the value and the number of bytes it occupies. If buf holds an
// incomplete frame ErrNeedMoreData is returned, if it holds a malformed frame a
// *ProtocolError is returned. In both cases nothing is consumed.
func Decode(buf []byte) (Value, int, error) {
	return decode(buf, 0)
}

func decode(buf []byte, depth int) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, ErrNeedMoreData
	}
	if depth > maxNestingDepth {
		return Value{}, 0, newProtocolError("nesting deeper than %d levels", maxNestingDepth)
	}

	switch buf[0] {
	case '+', '-':
		line, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		if buf[0] == '+' {
			return SimpleString(string(line)), n + 1, nil
		}
		return Error(string(line)), n + 1, nil

	case ':':
		line, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		i, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return Value{}, 0, newProtocolError("invalid integer %q", line)
		}
		return Integer(i), n + 1, nil

	case '$':
		line, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		length, err := parseLength(line, maxBulkLength)
		if err != nil {
			return Value{}, 0, err
		}
		if length == -1 {
			return Null(), n + 1, nil
		}
		bodyStart := n + 1
		total := bodyStart + length + len(crlf)
		if len(buf) < total {
			return Value{}, 0, ErrNeedMoreData
		}
		if buf[total-2] != '\r' || buf[total-1] != '\n' {
			return Value{}, 0, newProtocolError("bulk string body does not match declared length %d", length)
		}
		return BulkString(string(buf[bodyStart : bodyStart+length])), total, nil

	case '*':
		line, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		count, err := parseLength(line, maxArrayLength)
		if err != nil {
			return Value{}, 0, err
		}
		if count == -1 {
			return Null(), n + 1, nil
		}
		pos := n + 1
		// the header alone is no reason to allocate, every element needs
		// at least minElementSize bytes on the wire
		if len(buf)-pos < count*minElementSize {
			return Value{}, 0, ErrNeedMoreData
		}
		elems := make([]Value, 0, min(count, (len(buf)-pos)/minElementSize))
		for i := 0; i < count; i++ {
			elem, m, err := decode(buf[pos:], depth+1)
			if err != nil {
				return Value{}, 0, err
			}
			elems = append(elems, elem)
			pos += m
		}
		return Array(elems...), pos, nil

	default:
		return Value{}, 0, newProtocolError("unexpected leading byte %q", buf[0])
	}
}

// readLine returns the bytes up to the next \r\n and the number of bytes
// consumed including the terminator
func readLine(buf []byte) ([]byte, int, error) {
	idx := bytes.Index(buf, []byte(crlf))
	if idx < 0 {
		if len(buf) > maxLineLength {
			return nil, 0, newProtocolError("line exceeds %d bytes", maxLineLength)
		}
		return nil, 0, ErrNeedMoreData
	}
	return buf[:idx], idx + len(crlf), nil
}

// parseLength parses a length field. -1 is the null marker, anything below
// or above max is rejected.
func parseLength(line []byte, max int) (int, error) {
	if len(line) == 0 {
		return 0, newProtocolError("empty length field")
	}
	length, err := strconv.Atoi(string(line))
	if err != nil {
		return 0, newProtocolError("invalid length field %q", line)
	}
	if length < -1 || length > max {
		return 0, newProtocolError("length %d out of range", length)
	}
	return length, nil
}

// decodeBlob decodes the full resync payload framing ($<len>\r\n<bytes>, no trailing terminator)
func decodeBlob(buf []byte) ([]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	if buf[0] != '$' {
		return nil, 0, newProtocolError("unexpected leading byte %q for snapshot payload", buf[0])
	}
	line, n, err := readLine(buf[1:])
	if err != nil {
		return nil, 0, err
	}
	length, err := parseLength(line, maxBulkLength)
	if err != nil {
		return nil, 0, err
	}
	if length < 0 {
		return nil, 0, newProtocolError("snapshot payload can not be null")
	}
	start := n + 1
	if len(buf) < start+length {
		return nil, 0, ErrNeedMoreData
	}
	return buf[start : start+length], start + length, nil
}

// --------------------------------------------------------------------------
// Streaming Decoder
// --------------------------------------------------------------------------

// Decoder decodes values from a byte stream. Incomplete frames are buffered
// across reads, so a value may arrive split over any number of reads and
// several values may arrive in a single read.
//
// Thread-safety: A Decoder must only be used by one goroutine.
type Decoder struct {
	r       io.Reader
	buf     []byte
	start   int
	chunk   []byte
	pending error // read error returned together with data, reported on the next fill
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, defaultReadSize),
	}
}

// ReadValue returns the next value and the number of wire bytes it occupied.
// io.EOF is returned if the stream ends between values, io.ErrUnexpectedEOF
// if it ends inside a value.
func (d *Decoder) ReadValue() (Value, int, error) {
	for {
		if d.Buffered() > 0 {
			v, n, err := Decode(d.buf[d.start:])
			if err == nil {
				d.start += n
				return v, n, nil
			}
			if !errors.Is(err, ErrNeedMoreData) {
				return Value{}, 0, err
			}
		}
		if err := d.fill(); err != nil {
			return Value{}, 0, err
		}
	}
}

// ReadBlob reads a full resync payload ($<len>\r\n<bytes>) and returns the
// payload bytes together with the number of wire bytes consumed
func (d *Decoder) ReadBlob() ([]byte, int, error) {
	for {
		if d.Buffered() > 0 {
			blob, n, err := decodeBlob(d.buf[d.start:])
			if err == nil {
				out := make([]byte, len(blob))
				copy(out, blob)
				d.start += n
				return out, n, nil
			}
			if !errors.Is(err, ErrNeedMoreData) {
				return nil, 0, err
			}
		}
		if err := d.fill(); err != nil {
			return nil, 0, err
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet decoded
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.start
}

// fill reads the next chunk from the underlying reader into the buffer
func (d *Decoder) fill() error {
	if d.pending != nil {
		err := d.pending
		d.pending = nil
		return d.eofError(err)
	}

	d.compact()

	n, err := d.r.Read(d.chunk)
	if n > 0 {
		d.buf = append(d.buf, d.chunk[:n]...)
		d.pending = err
		return nil
	}
	if err != nil {
		return d.eofError(err)
	}
	return nil
}

// eofError converts io.EOF into io.ErrUnexpectedEOF if a partial frame is buffered
func (d *Decoder) eofError(err error) error {
	if errors.Is(err, io.EOF) && d.Buffered() > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}

// compact drops consumed bytes from the front of the buffer
func (d *Decoder) compact() {
	switch {
	case d.start == 0:
		return
	case d.start == len(d.buf):
		d.buf = d.buf[:0]
		d.start = 0
	case d.start > len(d.buf)/2:
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}
}
