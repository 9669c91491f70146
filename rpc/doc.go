// Package rpc contains the network side of rKV: everything between a socket
// and the store.
//
// The package is organized into several subpackages:
//
//   - common: Server and client configuration, the leveled logger factory and
//     the per-server metrics (Stats).
//
//   - transport: Listener and dialer abstractions with tcp and unix
//     implementations, plus the http metrics endpoint.
//
//   - client: A small RESP client used by the follower link and the cli.
//
//   - replication: Role state, full resync and command propagation on the
//     leader, handshake and apply loop on the follower.
//
//   - server: Command table, per-connection sessions and handlers that run
//     requests against the store.
package rpc
