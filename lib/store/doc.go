// Package store defines the storage engine contract of rKV: the IStore
// interface, the stream id type, the per-connection transaction queue and the
// error taxonomy shared by all layers above the engine.
//
// The package focuses on:
//   - A single interface (IStore) for scalar and stream operations
//   - Typed errors whose message is the exact reply text for clients
//   - Stream id parsing and ordering
//
// Key Components:
//
//   - IStore Interface: Scalars with optional expiry (Set, Get, Incr, Type,
//     Keys), append-only streams (XAdd, XRange, XRead, XReadBlock) and the
//     hooks used by the snapshot collaborator (Load, Dump).
//
//   - Error System: Every failure is a *Error carrying a RetCode and the reply
//     message. errors.Is compares codes, so callers can test for
//     ErrTypeMismatch, ErrNotMonotonic, ... without caring about the text.
//
//   - StreamID: The (ms, seq) pair identifying stream entries, totally ordered
//     by ms then seq. 0-0 is never a valid id of a stored entry.
//
//   - Transaction: The MULTI/EXEC queue of one connection. It only stores
//     argument vectors, executing them is up to the command dispatcher.
//
// Implementations:
//
//	- Local Store (lstore): The in-memory engine guarded by a single mutex.
//	  Available in the "github.com/ValentinKolb/rKV/lib/store/lstore" package.
//
// A conformance suite for implementations lives in
// "github.com/ValentinKolb/rKV/lib/store/testing".
package store
