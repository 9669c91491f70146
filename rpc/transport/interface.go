package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/rKV/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ConnHandleFunc serves one accepted connection.
// The handler owns conn and must return once ctx is done or the peer hangs up.
// The transport closes conn after the handler returned.
type ConnHandleFunc func(ctx context.Context, conn net.Conn)

// IServerTransport is the interface for the listener side of the transport layer
type IServerTransport interface {
	// RegisterHandler registers the handler called for every accepted connection.
	// It must be called before Listen or Serve.
	RegisterHandler(handler ConnHandleFunc)
	// Listen creates the listener described by config and serves it until ctx
	// is done or Close is called.
	Listen(ctx context.Context, config common.ServerConfig) error
	// Serve accepts connections from an existing listener
	Serve(ctx context.Context, listener net.Listener) error
	// Addr returns the address of the listener, nil before Listen or Serve
	Addr() net.Addr
	// Close stops accepting, closes all open connections and waits for their handlers
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClientTransport is the interface for the dialing side of the transport layer
type IClientTransport interface {
	// Dial connects to config.Endpoint, retrying up to config.RetryCount times
	Dial(ctx context.Context, config common.ClientConfig) (net.Conn, error)
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}
