// Package transport defines how rKV accepts and opens byte stream
// connections. The RESP protocol itself is handled above this layer, the
// transport only hands established connections to a ConnHandleFunc.
//
// Key Components:
//
//   - IServerTransport: Listener side. Every accepted connection is served by
//     the registered ConnHandleFunc in its own goroutine.
//
//   - IClientTransport: Dialing side with retries, used by the follower link
//     and the command line client.
//
// Implementations live in the tcp and unix subpackages, both built on base.
// The http subpackage serves the prometheus metrics endpoint.
package transport
