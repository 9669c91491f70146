package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func testConfig() common.ServerConfig {
	config := common.DefaultServerConfig()
	config.BindAddress = "127.0.0.1"
	config.Dir = "/tmp/rkv-test"
	config.DBFilename = "dump.rdb"
	config.TimeoutSecond = 2
	return config
}

// startServer serves s on a loopback listener and returns its address
func startServer(t *testing.T, config common.ServerConfig, opts ...Option) (*Server, string) {
	t.Helper()
	s, err := NewServer(config, opts...)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tr := tcp.NewTCPServerTransport()
	tr.RegisterHandler(s.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, listener.Addr().String()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), common.ClientConfig{Endpoint: addr, TimeoutSecond: 2})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// do sends a command and returns the raw reply, error replies included
func do(t *testing.T, c *client.Client, name string, args ...string) resp.Value {
	t.Helper()
	v, err := c.Do(name, args...)
	var replyErr *client.ReplyError
	if err != nil && !errors.As(err, &replyErr) {
		require.NoError(t, err)
	}
	return v
}

func entry(id string, fields ...string) resp.Value {
	return resp.Array(resp.BulkString(id), resp.BulkStrings(fields...))
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPingEcho(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	assert.Equal(t, resp.SimpleString("PONG"), do(t, c, "PING"))
	assert.Equal(t, resp.BulkString("hello"), do(t, c, "PING", "hello"))
	assert.Equal(t, resp.BulkString("hey"), do(t, c, "ECHO", "hey"))
}

func TestSetGetExpiry(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	assert.Equal(t, resp.SimpleString("OK"), do(t, c, "SET", "k", "v"))
	assert.Equal(t, resp.BulkString("v"), do(t, c, "GET", "k"))
	assert.Equal(t, resp.Null(), do(t, c, "GET", "missing"))

	assert.Equal(t, resp.SimpleString("OK"), do(t, c, "SET", "tmp", "v", "px", "100"))
	assert.Equal(t, resp.BulkString("v"), do(t, c, "GET", "tmp"))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, resp.Null(), do(t, c, "GET", "tmp"))

	assert.Equal(t, resp.Error("ERR syntax error"), do(t, c, "SET", "k", "v", "PX"))
	assert.Equal(t, resp.Error("ERR invalid expire time in 'set' command"), do(t, c, "SET", "k", "v", "PX", "-1"))
}

func TestIncr(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	assert.Equal(t, resp.Integer(1), do(t, c, "INCR", "n"))
	assert.Equal(t, resp.Integer(2), do(t, c, "INCR", "n"))
	do(t, c, "SET", "s", "abc")
	assert.Equal(t, resp.Error("ERR value is not an integer or out of range"), do(t, c, "INCR", "s"))
}

func TestTypeKeysConfig(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	do(t, c, "SET", "b", "1")
	do(t, c, "XADD", "a", "1-1", "f", "v")

	assert.Equal(t, resp.SimpleString("string"), do(t, c, "TYPE", "b"))
	assert.Equal(t, resp.SimpleString("stream"), do(t, c, "TYPE", "a"))
	assert.Equal(t, resp.SimpleString("none"), do(t, c, "TYPE", "c"))
	assert.Equal(t, resp.BulkStrings("a", "b"), do(t, c, "KEYS", "*"))
	assert.True(t, do(t, c, "KEYS", "a*").IsError())

	assert.Equal(t, resp.BulkStrings("dir", "/tmp/rkv-test"), do(t, c, "CONFIG", "GET", "dir"))
	assert.Equal(t, resp.BulkStrings("dbfilename", "dump.rdb"), do(t, c, "CONFIG", "GET", "dbfilename"))

	assert.Equal(t, resp.Error("WRONGTYPE Operation against a key holding the wrong kind of value"), do(t, c, "GET", "a"))
}

func TestXAddValidation(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	assert.Equal(t, resp.BulkString("1-1"), do(t, c, "XADD", "s", "1-1", "a", "1"))
	assert.Equal(t,
		resp.Error("ERR The ID specified in XADD is equal or smaller than the target stream top item"),
		do(t, c, "XADD", "s", "1-1", "b", "2"))
	assert.Equal(t,
		resp.Error("ERR The ID specified in XADD must be greater than 0-0"),
		do(t, c, "XADD", "empty", "0-0", "a", "1"))
	assert.Equal(t, resp.BulkString("1-2"), do(t, c, "XADD", "s", "1-*", "c", "3"))
}

func TestXAddAutoIDSameMillisecond(t *testing.T) {
	now := time.UnixMilli(1526919030474)
	st := lstore.NewLocalStore(lstore.WithClock(func() time.Time { return now }))
	_, addr := startServer(t, testConfig(), WithStore(st))
	c := dial(t, addr)

	assert.Equal(t, resp.BulkString("1526919030474-0"), do(t, c, "XADD", "s", "*", "a", "1"))
	assert.Equal(t, resp.BulkString("1526919030474-1"), do(t, c, "XADD", "s", "*", "a", "2"))
}

func TestXRange(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	do(t, c, "XADD", "s", "1-1", "a", "1")
	do(t, c, "XADD", "s", "2-1", "b", "2")
	do(t, c, "XADD", "s", "2-2", "c", "3", "d", "4")

	assert.Equal(t, resp.Array(
		entry("1-1", "a", "1"),
		entry("2-1", "b", "2"),
		entry("2-2", "c", "3", "d", "4"),
	), do(t, c, "XRANGE", "s", "-", "+"))

	assert.Equal(t, resp.Array(
		entry("2-1", "b", "2"),
		entry("2-2", "c", "3", "d", "4"),
	), do(t, c, "XRANGE", "s", "2", "2"))

	assert.Equal(t, resp.Array(entry("1-1", "a", "1")), do(t, c, "XRANGE", "s", "-", "+", "COUNT", "1"))
	assert.Equal(t, resp.Array(), do(t, c, "XRANGE", "missing", "-", "+"))
}

func TestXRead(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	assert.Equal(t, resp.Null(), do(t, c, "XREAD", "STREAMS", "s", "0-0"))

	do(t, c, "XADD", "s", "1-1", "a", "1")
	do(t, c, "XADD", "s", "1-2", "b", "2")
	assert.Equal(t, resp.Array(
		resp.Array(resp.BulkString("s"), resp.Array(entry("1-2", "b", "2"))),
	), do(t, c, "XREAD", "streams", "s", "1-1"))

	assert.Equal(t, resp.Null(), do(t, c, "XREAD", "BLOCK", "50", "STREAMS", "s", "$"))
	assert.True(t, do(t, c, "XREAD", "STREAMS", "s").IsError())
}

func TestXReadBlockWakeup(t *testing.T) {
	_, addr := startServer(t, testConfig())
	reader := dial(t, addr)
	writer := dial(t, addr)

	require.NoError(t, reader.Send("XREAD", "BLOCK", "0", "STREAMS", "s", "0-0"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, resp.BulkString("1-1"), do(t, writer, "XADD", "s", "1-1", "temperature", "36"))

	v, _, err := reader.Receive()
	require.NoError(t, err)
	assert.Equal(t, resp.Array(
		resp.Array(resp.BulkString("s"), resp.Array(entry("1-1", "temperature", "36"))),
	), v)
}

func TestMultiExec(t *testing.T) {
	_, addr := startServer(t, testConfig())
	tx := dial(t, addr)
	other := dial(t, addr)

	assert.Equal(t, resp.SimpleString("OK"), do(t, tx, "MULTI"))
	assert.Equal(t, resp.SimpleString("QUEUED"), do(t, tx, "SET", "a", "1"))
	assert.Equal(t, resp.SimpleString("QUEUED"), do(t, tx, "INCR", "a"))
	assert.Equal(t, resp.Null(), do(t, other, "GET", "a"))

	assert.Equal(t, resp.Array(resp.SimpleString("OK"), resp.Integer(2)), do(t, tx, "EXEC"))
	assert.Equal(t, resp.BulkString("2"), do(t, other, "GET", "a"))
}

func TestTransactionErrors(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	assert.Equal(t, resp.Error("ERR EXEC without MULTI"), do(t, c, "EXEC"))
	assert.Equal(t, resp.Error("ERR DISCARD without MULTI"), do(t, c, "DISCARD"))

	do(t, c, "MULTI")
	assert.Equal(t, resp.Error("ERR MULTI calls can not be nested"), do(t, c, "MULTI"))
	do(t, c, "SET", "a", "1")
	assert.Equal(t, resp.SimpleString("OK"), do(t, c, "DISCARD"))
	assert.Equal(t, resp.Null(), do(t, c, "GET", "a"))

	do(t, c, "MULTI")
	do(t, c, "SET", "a", "1")
	assert.True(t, do(t, c, "GET").IsError())
	assert.Equal(t, resp.Error("EXECABORT Transaction discarded because of previous errors."), do(t, c, "EXEC"))
	assert.Equal(t, resp.Null(), do(t, c, "GET", "a"))

	// runtime errors do not abort the transaction
	do(t, c, "SET", "s", "abc")
	do(t, c, "MULTI")
	do(t, c, "INCR", "s")
	do(t, c, "SET", "b", "2")
	assert.Equal(t, resp.Array(
		resp.Error("ERR value is not an integer or out of range"),
		resp.SimpleString("OK"),
	), do(t, c, "EXEC"))
}

func TestUnknownCommandAndArity(t *testing.T) {
	_, addr := startServer(t, testConfig())
	c := dial(t, addr)

	assert.Equal(t, resp.Error("ERR unknown command 'ping', with args beginning with: "), do(t, c, "ping"))
	assert.Equal(t, resp.Error("ERR wrong number of arguments for 'get' command"), do(t, c, "GET"))
	// the connection survives request errors
	assert.Equal(t, resp.SimpleString("PONG"), do(t, c, "PING"))
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	_, addr := startServer(t, testConfig())
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write([]byte("!oops\r\n"))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(reply), "-ERR Protocol error: "), string(reply))
}

func TestInfo(t *testing.T) {
	config := testConfig()
	config.ReplicationID = "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"
	_, addr := startServer(t, config)
	c := dial(t, addr)

	info := do(t, c, "INFO", "replication").Str
	assert.True(t, strings.HasPrefix(info, "# Replication\r\n"), info)
	assert.Contains(t, info, "role:master\r\n")
	assert.Contains(t, info, "master_replid:8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb\r\n")
	assert.Contains(t, info, "master_repl_offset:0")
	assert.NotContains(t, info, "# Server")

	do(t, c, "PING")
	all := do(t, c, "INFO").Str
	for _, section := range []string{"# Server", "# Clients", "# Stats", "# Commandstats", "# Replication"} {
		assert.Contains(t, all, section)
	}
	assert.Contains(t, all, "cmdstat_ping:calls=1,")
	assert.Contains(t, all, "connected_clients:1")
}

func TestReplication(t *testing.T) {
	leader, leaderAddr := startServer(t, testConfig())
	lc := dial(t, leaderAddr)

	// written before the follower attaches, arrives with the snapshot
	do(t, lc, "SET", "before", "snapshot")

	_, port, err := net.SplitHostPort(leaderAddr)
	require.NoError(t, err)
	followerConfig := testConfig()
	followerConfig.Port = 6390
	followerConfig.ReplicaOf = "127.0.0.1 " + port
	follower, followerAddr := startServer(t, followerConfig)
	fc := dial(t, followerAddr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- follower.FollowerLink().Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return leader.Replication().FollowerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	do(t, lc, "SET", "k", "v")
	do(t, lc, "INCR", "n")
	do(t, lc, "XADD", "s", "1-1", "a", "1")

	require.Eventually(t, func() bool {
		return do(t, fc, "GET", "k") == resp.BulkString("v")
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, resp.BulkString("snapshot"), do(t, fc, "GET", "before"))
	assert.Equal(t, resp.BulkString("1"), do(t, fc, "GET", "n"))
	require.Eventually(t, func() bool {
		return len(do(t, fc, "XRANGE", "s", "-", "+").Elems) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, resp.Error("READONLY You can't write against a read only replica."), do(t, fc, "SET", "x", "1"))

	info := do(t, fc, "INFO", "replication").Str
	assert.Contains(t, info, "role:slave")
	assert.Contains(t, info, "master_link_status:up")
	assert.Contains(t, info, "master_replid:"+leader.Replication().ReplicationID())

	leaderInfo := do(t, lc, "INFO", "replication").Str
	assert.Contains(t, leaderInfo, "connected_slaves:1")
	assert.Contains(t, leaderInfo, "port=6390")
	require.Eventually(t, func() bool {
		return leader.Replication().Offset() == follower.Replication().Offset()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFollowerAcknowledgesOffset(t *testing.T) {
	leader, leaderAddr := startServer(t, testConfig())

	_, port, err := net.SplitHostPort(leaderAddr)
	require.NoError(t, err)
	followerConfig := testConfig()
	followerConfig.ReplicaOf = "127.0.0.1:" + port
	follower, err := NewServer(followerConfig)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go follower.FollowerLink().Run(ctx)

	require.Eventually(t, func() bool { return leader.Replication().FollowerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	lc := dial(t, leaderAddr)
	do(t, lc, "SET", "k", "v")
	offset := leader.Replication().Offset()
	leader.Replication().Propagate([]string{"REPLCONF", "GETACK", "*"})

	require.Eventually(t, func() bool {
		followers := leader.Replication().Followers()
		return len(followers) == 1 && followers[0].AckOffset == offset
	}, 2*time.Second, 10*time.Millisecond)

	_, ok, err := follower.Store().Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplyIgnoresReads(t *testing.T) {
	config := testConfig()
	config.ReplicaOf = "localhost 6379"
	s, err := NewServer(config)
	require.NoError(t, err)

	require.NoError(t, s.Apply([]string{"PING"}))
	require.NoError(t, s.Apply([]string{"SET", "a", "1", "PX", "1000"}))
	value, ok, err := s.Store().Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", value)

	assert.ErrorIs(t, s.Apply([]string{"XADD", "a", "1-1", "f", "v"}), store.ErrTypeMismatch)
}

// syncBuffer is a follower sink that can be read while the leader writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPingFollowers(t *testing.T) {
	s, err := NewServer(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pingFollowers(ctx, 10*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// nothing is propagated without followers
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, s.Replication().Offset())

	sink := &syncBuffer{}
	require.NoError(t, s.Replication().Attach(sink, "127.0.0.1", 6390))
	require.Eventually(t, func() bool {
		return strings.Contains(sink.String(), "*1\r\n$4\r\nPING\r\n")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, s.Replication().Offset())
}

func TestReplicatedStreamIDsMatchLeader(t *testing.T) {
	leaderClock := func() time.Time { return time.UnixMilli(5000) }
	followerClock := func() time.Time { return time.UnixMilli(1000) }

	leader, leaderAddr := startServer(t, testConfig(), WithStore(lstore.NewLocalStore(lstore.WithClock(leaderClock))))
	lc := dial(t, leaderAddr)

	_, port, err := net.SplitHostPort(leaderAddr)
	require.NoError(t, err)
	followerConfig := testConfig()
	followerConfig.ReplicaOf = "127.0.0.1 " + port
	follower, err := NewServer(followerConfig, WithStore(lstore.NewLocalStore(lstore.WithClock(followerClock))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- follower.FollowerLink().Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return leader.Replication().FollowerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, resp.BulkString("5000-0"), do(t, lc, "XADD", "s", "*", "a", "1"))
	assert.Equal(t, resp.BulkString("5000-1"), do(t, lc, "XADD", "s", "5000-*", "a", "2"))
	assert.Equal(t, resp.BulkString("5000-2"), do(t, lc, "XADD", "s", "5000-2", "a", "3"))

	want := []store.StreamID{{Ms: 5000, Seq: 0}, {Ms: 5000, Seq: 1}, {Ms: 5000, Seq: 2}}
	require.Eventually(t, func() bool {
		entries, err := follower.Store().XRange("s", "-", "+", 0)
		if err != nil || len(entries) != len(want) {
			return false
		}
		for i, e := range entries {
			if e.ID != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplyWriteResolvesGeneratedIDs(t *testing.T) {
	clock := func() time.Time { return time.UnixMilli(42) }
	s, err := NewServer(testConfig(), WithStore(lstore.NewLocalStore(lstore.WithClock(clock))))
	require.NoError(t, err)

	cmd, err := ParseCommand([]string{"XADD", "s", "*", "f", "v"})
	require.NoError(t, err)
	reply, replay, err := s.applyWrite(cmd)
	require.NoError(t, err)
	assert.Equal(t, resp.BulkString("42-0"), reply)
	assert.Equal(t, []string{"XADD", "s", "42-0", "f", "v"}, replay)
	assert.Equal(t, []string{"XADD", "s", "*", "f", "v"}, cmd.Argv)

	cmd, err = ParseCommand([]string{"SET", "k", "v", "PX", "100"})
	require.NoError(t, err)
	_, replay, err = s.applyWrite(cmd)
	require.NoError(t, err)
	assert.Equal(t, cmd.Argv, replay)
}

func TestXReadBlockEndsWhenClientDisconnects(t *testing.T) {
	s, addr := startServer(t, testConfig())
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	_, err = conn.Write(resp.Encode(resp.Command("XREAD", "BLOCK", "0", "STREAMS", "s", "$")))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// give the request time to reach the blocking read
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// the stream stays writable after the reader left
	c := dial(t, addr)
	assert.Equal(t, resp.BulkString("1-1"), do(t, c, "XADD", "s", "1-1", "f", "v"))
}
