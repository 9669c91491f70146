package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// ReplyError is an error reply sent by the server
type ReplyError struct {
	Msg string
}

func (e *ReplyError) Error() string {
	return e.Msg
}

// Client is a RESP connection to a server.
//
// Thread-safety: Do serializes complete request/reply exchanges and may be
// used concurrently. Send, Receive and ReadBlob are meant for a single
// goroutine driving the connection, e.g. the follower link.
type Client struct {
	conn    net.Conn
	dec     *resp.Decoder
	timeout time.Duration
	mu      sync.Mutex
	wbuf    []byte
}

// NewClient wraps an established connection. A timeout of zero disables deadlines.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		dec:     resp.NewDecoder(conn),
		timeout: timeout,
	}
}

// ClientTransport returns the transport named by config.Transport
func ClientTransport(config common.ClientConfig) (transport.IClientTransport, error) {
	switch config.Transport {
	case "", "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q, must be one of tcp, unix", config.Transport)
	}
}

// Dial connects to config.Endpoint
func Dial(ctx context.Context, config common.ClientConfig) (*Client, error) {
	t, err := ClientTransport(config)
	if err != nil {
		return nil, err
	}
	conn, err := t.Dial(ctx, config)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, time.Duration(config.TimeoutSecond)*time.Second), nil
}

// --------------------------------------------------------------------------
// Request / Reply
// --------------------------------------------------------------------------

// Do sends a command and waits for its reply. An error reply is returned as
// value together with a *ReplyError.
func (c *Client) Do(name string, args ...string) (resp.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Send(name, args...); err != nil {
		return resp.Value{}, err
	}
	v, _, err := c.Receive()
	if err != nil {
		return resp.Value{}, err
	}
	if v.IsError() {
		return v, &ReplyError{Msg: v.Str}
	}
	return v, nil
}

// Send writes a command without waiting for the reply
func (c *Client) Send(name string, args ...string) error {
	return c.Write(resp.Command(name, args...))
}

// Write writes an arbitrary value
func (c *Client) Write(v resp.Value) error {
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	c.wbuf = resp.AppendEncode(c.wbuf[:0], v)
	_, err := c.conn.Write(c.wbuf)
	return err
}

// Receive reads the next value and returns the number of wire bytes it occupied
func (c *Client) Receive() (resp.Value, int, error) {
	if err := c.readDeadline(); err != nil {
		return resp.Value{}, 0, err
	}
	return c.dec.ReadValue()
}

// ReadBlob reads a full resync payload
func (c *Client) ReadBlob() ([]byte, int, error) {
	if err := c.readDeadline(); err != nil {
		return nil, 0, err
	}
	return c.dec.ReadBlob()
}

// SetTimeout changes the read/write deadline applied to following calls.
// Zero disables deadlines, which is what a long lived replication stream needs.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// RemoteAddr returns the address of the server
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readDeadline() error {
	if c.timeout > 0 {
		return c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.conn.SetReadDeadline(time.Time{})
}
