package util

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// ReplicationIDLength is the length of a replication id in hex characters
const ReplicationIDLength = 40

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed, falling back to the current time if
// the system random source fails
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// GenerateReplicationID returns a random 40 character hex token
func GenerateReplicationID() string {
	var b [ReplicationIDLength / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		var fallback [24]byte
		for i := 0; i < len(fallback); i += 8 {
			binary.LittleEndian.PutUint64(fallback[i:], GenerateSeed())
		}
		copy(b[:], fallback[:])
	}
	return hex.EncodeToString(b[:])
}

// IsReplicationID reports whether s has the shape of a replication id
func IsReplicationID(s string) bool {
	if len(s) != ReplicationIDLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
