package resp

import (
	"strconv"
)

const crlf = "\r\n"

// Encode returns the wire representation of v
func Encode(v Value) []byte {
	return AppendEncode(make([]byte, 0, encodedSizeHint(v)), v)
}

// AppendEncode appends the wire representation of v to dst and returns the extended buffer
func AppendEncode(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindSimpleString:
		dst = append(dst, '+')
		dst = append(dst, v.Str...)
		dst = append(dst, crlf...)
	case KindError:
		dst = append(dst, '-')
		dst = append(dst, v.Str...)
		dst = append(dst, crlf...)
	case KindBulkString:
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(v.Str)), 10)
		dst = append(dst, crlf...)
		dst = append(dst, v.Str...)
		dst = append(dst, crlf...)
	case KindInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Int, 10)
		dst = append(dst, crlf...)
	case KindNull:
		dst = append(dst, "$-1\r\n"...)
	case KindArray:
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(v.Elems)), 10)
		dst = append(dst, crlf...)
		for _, elem := range v.Elems {
			dst = AppendEncode(dst, elem)
		}
	}
	return dst
}

// EncodeBlob returns the framing used for the full resync payload:
// $<len>\r\n<bytes> without a trailing terminator
func EncodeBlob(blob []byte) []byte {
	dst := make([]byte, 0, len(blob)+16)
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(blob)), 10)
	dst = append(dst, crlf...)
	return append(dst, blob...)
}

// encodedSizeHint estimates the encoded size to avoid reallocations for the common case
func encodedSizeHint(v Value) int {
	switch v.Kind {
	case KindArray:
		n := 16
		for _, elem := range v.Elems {
			n += encodedSizeHint(elem)
		}
		return n
	default:
		return len(v.Str) + 16
	}
}
