// Package base provides the transport logic shared by all network media
// (TCP, Unix sockets). Medium specific code is injected through the
// IServerConnector and IClientConnector interfaces.
//
// Key Components:
//
//   - serverTransport: Accept loop that hands every connection to the
//     registered handler in its own goroutine. Temporary accept errors are
//     retried with a growing delay. Close stops the listener, closes all
//     tracked connections and waits for their handlers, which also cancels
//     the context passed to them.
//
//   - clientTransport: Dials an endpoint with exponential backoff between
//     attempts (cenkalti/backoff) and applies the connector's socket options.
//
// Thread Safety:
//
//	All public methods are thread-safe.
package base
