package store

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the interface of the storage engine. It owns the whole key space:
// scalar key-value pairs with optional expiry and named append-only streams.
// A key is either a scalar or a stream, never both.
//
// All operations are atomic with respect to each other. Errors returned by
// the store are of type *Error, the message of which is the exact reply a
// client should see.
type IStore interface {
	// Set inserts or overwrites a scalar value. A ttl of zero means no expiry.
	// Setting a key that holds a stream fails with RetCTypeMismatch.
	Set(key, value string, ttl time.Duration) (err error)
	// Get returns the value for a key. The boolean return value is false if the key is absent or expired.
	Get(key string) (value string, loaded bool, err error)
	// Incr increments the integer stored at key by one and returns the new value.
	// An absent key is treated as 0. The expiry of the key is preserved.
	Incr(key string) (value int64, err error)
	// Type returns the kind of value stored at key
	Type(key string) (t KeyType, err error)
	// Keys returns all live keys matching pattern. Only the match-all pattern "*" is supported.
	Keys(pattern string) (keys []string, err error)

	// XAdd appends an entry to a stream, creating the stream if necessary.
	// idSpec is either "ms-seq", "ms-*" or "*".
	XAdd(key, idSpec string, fields []Field) (id StreamID, err error)
	// XRange returns the entries with start <= id <= end in ascending order.
	// start may be "-", end may be "+", a bare millisecond value is accepted for both.
	// A count <= 0 means no limit.
	XRange(key, start, end string, count int) (entries []StreamEntry, err error)
	// XRead returns for every query the entries strictly after the query id.
	// Streams without new entries are omitted from the result.
	XRead(queries []StreamQuery, count int) (results []StreamResult, err error)
	// XReadBlock works like XRead but waits for new entries if there are none.
	// A timeout of zero waits until data arrives or ctx is done. If the timeout
	// expires a nil result and no error is returned.
	XReadBlock(ctx context.Context, queries []StreamQuery, count int, timeout time.Duration) (results []StreamResult, err error)

	// Load inserts the given records, overwriting existing keys. Expired records are skipped.
	Load(records []Record) (err error)
	// Dump returns all live scalar records
	Dump() (records []Record, err error)
}

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// KeyType is the kind of value stored at a key
type KeyType uint8

const (
	KeyTypeNone KeyType = iota
	KeyTypeString
	KeyTypeStream
)

// String returns the name used on the wire by the TYPE command
func (t KeyType) String() string {
	switch t {
	case KeyTypeString:
		return "string"
	case KeyTypeStream:
		return "stream"
	default:
		return "none"
	}
}

// Record is a scalar key-value pair as exchanged with the snapshot collaborator.
// A zero ExpiresAt means the record never expires.
type Record struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}

// Field is a single name/value pair of a stream entry
type Field struct {
	Name  string
	Value string
}

// StreamEntry is one entry of a stream. Fields keep their insertion order.
type StreamEntry struct {
	ID     StreamID
	Fields []Field
}

// StreamQuery selects the entries of one stream that come after After.
// If Latest is set, After is ignored and only entries added after the
// query started are returned (the "$" id).
type StreamQuery struct {
	Key    string
	After  StreamID
	Latest bool
}

// StreamResult holds the entries read from one stream
type StreamResult struct {
	Key     string
	Entries []StreamEntry
}
