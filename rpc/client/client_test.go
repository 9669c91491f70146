package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers every request with the next reply of replies and
// records the received argument vectors
func fakeServer(t *testing.T, conn net.Conn, replies ...resp.Value) <-chan []string {
	t.Helper()
	received := make(chan []string, len(replies))
	go func() {
		defer close(received)
		dec := resp.NewDecoder(conn)
		for _, reply := range replies {
			v, _, err := dec.ReadValue()
			if err != nil {
				return
			}
			args, err := v.Args()
			if err != nil {
				return
			}
			received <- args
			if _, err := conn.Write(resp.Encode(reply)); err != nil {
				return
			}
		}
	}()
	return received
}

func TestDo(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	c := NewClient(clientConn, time.Second)
	defer c.Close()

	received := fakeServer(t, serverConn,
		resp.SimpleString("OK"),
		resp.BulkString("bar"),
		resp.Null(),
		resp.Error("ERR value is not an integer or out of range"),
	)

	require.NoError(t, c.Set("foo", "bar", 100*time.Millisecond))
	assert.Equal(t, []string{"SET", "foo", "bar", "PX", "100"}, <-received)

	value, ok, err := c.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", value)
	<-received

	_, ok, err = c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	<-received

	_, err = c.Incr("foo")
	var replyErr *ReplyError
	require.True(t, errors.As(err, &replyErr))
	assert.Equal(t, "ERR value is not an integer or out of range", replyErr.Msg)
}

func TestReceiveBlobThenCommands(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	c := NewClient(clientConn, time.Second)
	defer c.Close()

	go func() {
		payload := append([]byte("+FULLRESYNC abc 0\r\n"), resp.EncodeBlob([]byte("REDIS0011\xff"))...)
		payload = append(payload, resp.Encode(resp.Command("SET", "a", "1"))...)
		// split the payload to force partial reads
		for len(payload) > 0 {
			n := min(5, len(payload))
			if _, err := serverConn.Write(payload[:n]); err != nil {
				return
			}
			payload = payload[n:]
		}
	}()

	v, _, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, "FULLRESYNC abc 0", v.Str)

	blob, _, err := c.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, []byte("REDIS0011\xff"), blob)

	v, n, err := c.Receive()
	require.NoError(t, err)
	args, err := v.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"SET", "a", "1"}, args)
	assert.Equal(t, len(resp.Encode(resp.Command("SET", "a", "1"))), n)
}

func TestDial(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-fakeServer(t, conn, resp.SimpleString("PONG"))
	}()

	c, err := Dial(context.Background(), common.ClientConfig{Endpoint: listener.Addr().String(), TimeoutSecond: 1})
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Ping())
}

func TestDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	_, err = Dial(context.Background(), common.ClientConfig{Endpoint: addr, TimeoutSecond: 1, RetryCount: 2})
	assert.Error(t, err)

	_, err = Dial(context.Background(), common.ClientConfig{Endpoint: addr, Transport: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown transport")
}
