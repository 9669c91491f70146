// Package testing provides standardised tests and benchmarks for storage
// engines that satisfy the store.IStore interface.
//
// The package contains:
//   - testing: A conformance suite covering scalars, expiry, streams, blocking reads and snapshots
//   - benchmark: Throughput tests for the common operations
//
// Example usage:
//
//	factory := func() store.IStore {
//		return lstore.NewLocalStore()
//	}
//
//	// Running the standard test suite
//	storetesting.RunStoreTests(t, "LocalStore", factory)
//
//	// Running performance benchmarks
//	storetesting.RunStoreBenchmarks(b, "LocalStore", factory)
package testing
