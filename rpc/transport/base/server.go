package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the accept loop independent of the transport medium
type serverTransport struct {
	connector IServerConnector
	handler   transport.ConnHandleFunc
	config    common.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport that runs every
// accepted connection in its own goroutine
func NewBaseServerTransport(connector IServerConnector) transport.IServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     make(map[net.Conn]struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ConnHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(ctx context.Context, config common.ServerConfig) error {
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return t.Serve(ctx, listener)
}

func (t *serverTransport) Serve(ctx context.Context, listener net.Listener) error {
	if t.handler == nil {
		listener.Close()
		return errors.New("no connection handler registered")
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		listener.Close()
		return nil
	}
	t.listener = listener
	t.cancel = cancel
	t.mu.Unlock()

	// close the listener once the context is done, this unblocks Accept
	go func() {
		<-serveCtx.Done()
		_ = t.Close()
	}()

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	var tempDelay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.isClosed() {
				t.wg.Wait()
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// back off on temporary errors like running out of file descriptors
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay = min(tempDelay*2, time.Second)
				}
				Logger.Warningf("Accept error: %v; retrying in %s", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			_ = t.Close()
			t.wg.Wait()
			return fmt.Errorf("accept failed: %w", err)
		}
		tempDelay = 0

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		if !t.track(conn) {
			conn.Close()
			continue
		}

		go func() {
			defer t.wg.Done()
			defer t.untrack(conn)
			defer conn.Close()
			t.handler(serveCtx, conn)
		}()
	}
}

func (t *serverTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for conn := range t.conns {
		conn.Close()
	}
	t.mu.Unlock()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// track registers an open connection, false if the transport is closing
func (t *serverTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	t.wg.Add(1)
	return true
}

func (t *serverTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, conn)
}
