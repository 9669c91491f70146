// Package lstore implements the local, in-memory storage engine of rKV based on
// the store.IStore interface. Data lives in memory only, persistence is handled
// by the RDB snapshot collaborator (see lib/rdb) through Load and Dump.
//
// Key Features:
//   - Scalars with optional absolute expiry, removed lazily on access
//   - Append-only streams with (ms, seq) ids
//   - Blocking stream reads woken directly by XAdd
//
// Implementation Details:
//
//   - Single Lock: Every operation holds one mutex for its whole duration, so
//     all operations are linearizable with respect to each other.
//
//   - Lazy Expiry: There is no background sweeper. An expired scalar is
//     treated as absent and deleted the next time any operation touches it.
//
//   - Blocking Reads: XReadBlock registers a waiter on every queried key while
//     holding the lock, then releases it and waits. XAdd signals the waiters of
//     its key under the same lock, so an append between the initial read and the
//     wait cannot be missed. A woken reader re-evaluates its queries.
//
// Usage Example:
//
//	s := lstore.NewLocalStore()
//	_ = s.Set("session:123", "data", 5*time.Minute)
//	id, _ := s.XAdd("events", "*", []store.Field{{Name: "temp", Value: "21"}})
package lstore
