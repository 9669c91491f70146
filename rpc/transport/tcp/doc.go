// Package tcp implements the TCP transport of rKV on top of the base package.
//
// Key Components:
//
//   - serverConnector: Listens on ServerConfig.Endpoint and applies the
//     TCPNoDelay and TCPKeepAliveSec socket options to accepted connections.
//
//   - clientConnector: Dials with a timeout and disables Nagle's algorithm,
//     request/response traffic of small RESP frames does not benefit from it.
package tcp
