package rdb

import (
	"encoding/binary"
	"math"

	"github.com/ValentinKolb/rKV/lib/store"
)

// Version is the RDB version written by Encode
const Version = "0011"

// auxFields are written after the header of every encoded snapshot
var auxFields = [][2]string{
	{"redis-ver", "7.2.0"},
	{"redis-bits", "64"},
}

// Encode serializes records as an RDB snapshot of database 0.
// Records with an expiry are written with a millisecond expiry opcode.
// The checksum is written as zero, which readers treat as "not computed".
func Encode(records []store.Record) []byte {
	buf := make([]byte, 0, 64+32*len(records))
	buf = append(buf, "REDIS"+Version...)

	for _, aux := range auxFields {
		buf = append(buf, opAux)
		buf = appendString(buf, aux[0])
		buf = appendString(buf, aux[1])
	}

	expiring := 0
	for _, r := range records {
		if !r.ExpiresAt.IsZero() {
			expiring++
		}
	}
	buf = append(buf, opSelectDB)
	buf = appendLength(buf, 0)
	buf = append(buf, opResizeDB)
	buf = appendLength(buf, uint64(len(records)))
	buf = appendLength(buf, uint64(expiring))

	for _, r := range records {
		if !r.ExpiresAt.IsZero() {
			buf = append(buf, opExpireMs)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(r.ExpiresAt.UnixMilli()))
		}
		buf = append(buf, typeString)
		buf = appendString(buf, r.Key)
		buf = appendString(buf, r.Value)
	}

	buf = append(buf, opEOF)
	buf = append(buf, make([]byte, 8)...)
	return buf
}

func appendLength(buf []byte, n uint64) []byte {
	switch {
	case n < 1<<6:
		return append(buf, byte(n))
	case n < 1<<14:
		return append(buf, 0x40|byte(n>>8), byte(n))
	case n <= math.MaxUint32:
		buf = append(buf, 0x80)
		return binary.BigEndian.AppendUint32(buf, uint32(n))
	default:
		buf = append(buf, 0x81)
		return binary.BigEndian.AppendUint64(buf, n)
	}
}

func appendString(buf []byte, s string) []byte {
	buf = appendLength(buf, uint64(len(s)))
	return append(buf, s...)
}

// --------------------------------------------------------------------------
// Snapshotter
// --------------------------------------------------------------------------

// StoreSnapshotter produces full resync snapshots from the live key space of a store
type StoreSnapshotter struct {
	store store.IStore
}

// NewSnapshotter creates a snapshotter for s
func NewSnapshotter(s store.IStore) *StoreSnapshotter {
	return &StoreSnapshotter{store: s}
}

// Snapshot encodes all live scalar keys of the store
func (s *StoreSnapshotter) Snapshot() ([]byte, error) {
	records, err := s.store.Dump()
	if err != nil {
		return nil, err
	}
	Logger.Debugf("encoding snapshot with %d keys", len(records))
	return Encode(records), nil
}
