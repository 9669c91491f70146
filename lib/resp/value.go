package resp

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Value Types
// --------------------------------------------------------------------------

// Kind identifies the wire shape of a Value
type Kind uint8

const (
	KindSimpleString Kind = iota // +text\r\n
	KindBulkString               // $len\r\n<bytes>\r\n
	KindNull                     // $-1\r\n
	KindArray                    // *count\r\n<elements>
	KindError                    // -text\r\n
	KindInteger                  // :n\r\n
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "SimpleString"
	case KindBulkString:
		return "BulkString"
	case KindNull:
		return "Null"
	case KindArray:
		return "Array"
	case KindError:
		return "Error"
	case KindInteger:
		return "Integer"
	default:
		return "Unknown"
	}
}

// Value is a single decoded (or to be encoded) protocol value.
// Str holds the payload of simple strings, bulk strings and errors,
// Int the value of an integer and Elems the elements of an array.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Elems []Value
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

func SimpleString(s string) Value { return Value{Kind: KindSimpleString, Str: s} }

func BulkString(s string) Value { return Value{Kind: KindBulkString, Str: s} }

func Null() Value { return Value{Kind: KindNull} }

func Error(msg string) Value { return Value{Kind: KindError, Str: msg} }

func Integer(n int64) Value { return Value{Kind: KindInteger, Int: n} }

// Array creates an array value. A nil element list becomes an empty array so
// that an encoded and decoded empty array compares equal to the original.
func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: KindArray, Elems: elems}
}

// BulkStrings creates an array of bulk strings
func BulkStrings(items ...string) Value {
	elems := make([]Value, len(items))
	for i, item := range items {
		elems[i] = BulkString(item)
	}
	return Array(elems...)
}

// Command creates a request value (array of bulk strings) for the command
// name and its arguments. This is the shape clients send and the shape the
// leader uses to propagate writes.
func Command(name string, args ...string) Value {
	return BulkStrings(append([]string{name}, args...)...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// IsNull reports whether the value is the null bulk string
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsError reports whether the value is a simple error
func (v Value) IsError() bool { return v.Kind == KindError }

// Args converts a request into its argument vector. A request must be a
// non-empty array of bulk strings, anything else is a protocol error.
func (v Value) Args() ([]string, error) {
	if v.Kind != KindArray {
		return nil, newProtocolError("expected request array, got %s", v.Kind)
	}
	if len(v.Elems) == 0 {
		return nil, newProtocolError("empty request array")
	}
	args := make([]string, len(v.Elems))
	for i, elem := range v.Elems {
		if elem.Kind != KindBulkString {
			return nil, newProtocolError("expected bulk string at position %d, got %s", i, elem.Kind)
		}
		args[i] = elem.Str
	}
	return args, nil
}

// String returns a human readable representation (used by the cli and in logs)
func (v Value) String() string {
	switch v.Kind {
	case KindSimpleString:
		return v.Str
	case KindBulkString:
		return fmt.Sprintf("%q", v.Str)
	case KindNull:
		return "(nil)"
	case KindError:
		return "(error) " + v.Str
	case KindInteger:
		return "(integer) " + strconv.FormatInt(v.Int, 10)
	case KindArray:
		if len(v.Elems) == 0 {
			return "(empty array)"
		}
		parts := make([]string, len(v.Elems))
		for i, elem := range v.Elems {
			parts[i] = elem.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "(unknown)"
	}
}
