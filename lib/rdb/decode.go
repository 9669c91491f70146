package rdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rdb")

// Opcodes and value types of the RDB format
const (
	opAux       byte = 0xFA
	opResizeDB  byte = 0xFB
	opExpireMs  byte = 0xFC
	opExpireSec byte = 0xFD
	opSelectDB  byte = 0xFE
	opEOF       byte = 0xFF

	typeString byte = 0x00
)

// Special string encodings (length byte 0b11xxxxxx)
const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

// FormatError reports malformed snapshot data
type FormatError struct {
	Offset int    // byte offset at which decoding failed
	Msg    string // description of the problem
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("rdb: %s at offset %d", e.Msg, e.Offset)
}

// LoadFile reads and decodes the snapshot at path. A missing file is not an
// error, it yields an empty record set.
func LoadFile(path string) ([]store.Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		Logger.Infof("no snapshot found at %s, starting empty", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	Logger.Infof("decoded %d keys from %s", len(records), path)
	return records, nil
}

// Decode parses an RDB snapshot and returns its string keys.
// Only the string value type is supported. Auxiliary fields, database
// selectors and resize hints are skipped, the trailing checksum is ignored.
func Decode(data []byte) ([]store.Record, error) {
	d := &decoder{data: data}
	if err := d.header(); err != nil {
		return nil, err
	}

	var records []store.Record
	for {
		op, err := d.byte()
		if err != nil {
			return nil, err
		}

		var expiresAt time.Time
		switch op {
		case opEOF:
			return records, nil
		case opAux:
			name, err := d.string()
			if err != nil {
				return nil, err
			}
			value, err := d.string()
			if err != nil {
				return nil, err
			}
			Logger.Debugf("aux field %s=%s", name, value)
			continue
		case opSelectDB:
			if _, err := d.length(); err != nil {
				return nil, err
			}
			continue
		case opResizeDB:
			if _, err := d.length(); err != nil {
				return nil, err
			}
			if _, err := d.length(); err != nil {
				return nil, err
			}
			continue
		case opExpireMs:
			b, err := d.take(8)
			if err != nil {
				return nil, err
			}
			expiresAt = time.UnixMilli(int64(binary.LittleEndian.Uint64(b)))
			if op, err = d.byte(); err != nil {
				return nil, err
			}
		case opExpireSec:
			b, err := d.take(4)
			if err != nil {
				return nil, err
			}
			expiresAt = time.Unix(int64(binary.LittleEndian.Uint32(b)), 0)
			if op, err = d.byte(); err != nil {
				return nil, err
			}
		}

		if op != typeString {
			return nil, d.errorf("unsupported value type 0x%02x", op)
		}
		key, err := d.string()
		if err != nil {
			return nil, err
		}
		value, err := d.string()
		if err != nil {
			return nil, err
		}
		records = append(records, store.Record{Key: key, Value: value, ExpiresAt: expiresAt})
	}
}

// --------------------------------------------------------------------------
// Decoder
// --------------------------------------------------------------------------

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) errorf(format string, args ...interface{}) error {
	return &FormatError{Offset: d.pos, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.data)-d.pos < n {
		return nil, d.errorf("unexpected end of data")
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// header checks the magic string and the 4 digit version
func (d *decoder) header() error {
	b, err := d.take(9)
	if err != nil {
		return d.errorf("missing header")
	}
	if string(b[:5]) != "REDIS" {
		return &FormatError{Offset: 0, Msg: "invalid magic string"}
	}
	for _, c := range b[5:] {
		if c < '0' || c > '9' {
			return &FormatError{Offset: 5, Msg: "invalid version"}
		}
	}
	return nil
}

// lengthOrEncoding decodes a length field. If the field announces a special
// string encoding, special is true and n holds the encoding type.
func (d *decoder) lengthOrEncoding() (n uint64, special bool, err error) {
	first, err := d.byte()
	if err != nil {
		return 0, false, err
	}
	switch first >> 6 {
	case 0b00:
		return uint64(first & 0x3F), false, nil
	case 0b01:
		second, err := d.byte()
		if err != nil {
			return 0, false, err
		}
		return uint64(first&0x3F)<<8 | uint64(second), false, nil
	case 0b10:
		switch first {
		case 0x80:
			b, err := d.take(4)
			if err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(b)), false, nil
		case 0x81:
			b, err := d.take(8)
			if err != nil {
				return 0, false, err
			}
			return binary.BigEndian.Uint64(b), false, nil
		default:
			return 0, false, d.errorf("invalid length prefix 0x%02x", first)
		}
	default:
		return uint64(first & 0x3F), true, nil
	}
}

func (d *decoder) length() (uint64, error) {
	n, special, err := d.lengthOrEncoding()
	if err != nil {
		return 0, err
	}
	if special {
		return 0, d.errorf("unexpected string encoding in length field")
	}
	return n, nil
}

func (d *decoder) string() (string, error) {
	n, special, err := d.lengthOrEncoding()
	if err != nil {
		return "", err
	}
	if !special {
		if n > uint64(len(d.data)-d.pos) {
			return "", d.errorf("string length %d exceeds data", n)
		}
		b, err := d.take(int(n))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	switch n {
	case encInt8:
		b, err := d.take(1)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int8(b[0])), 10), nil
	case encInt16:
		b, err := d.take(2)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(b))), 10), nil
	case encInt32:
		b, err := d.take(4)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(b))), 10), nil
	case encLZF:
		return "", d.errorf("compressed strings are not supported")
	default:
		return "", d.errorf("unknown string encoding %d", n)
	}
}
