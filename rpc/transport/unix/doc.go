// Package unix implements a transport for processes on the same machine
// using Unix domain sockets. The server listens on ServerConfig.UnixSocket
// in addition to the TCP endpoint, replacing a stale socket file on start.
package unix
