// Package rdb reads and writes the subset of the Redis RDB snapshot format
// that rKV needs: string keys with optional expiry in a single database.
//
// Decode is used to seed the store at startup (LoadFile) and by followers to
// load the blob received during a full resync. Encode, through
// StoreSnapshotter, produces that blob on the leader from the live key space.
package rdb
