package replication

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingApplier remembers everything the follower link hands to it
type recordingApplier struct {
	mu       sync.Mutex
	snapshot []byte
	applied  [][]string
}

func (a *recordingApplier) LoadSnapshot(blob []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = blob
	return nil
}

func (a *recordingApplier) Apply(argv []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, argv)
	return nil
}

func (a *recordingApplier) commands() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.applied...)
}

// fakeLeader accepts a single follower and plays the leader side of the handshake
type fakeLeader struct {
	t        *testing.T
	listener net.Listener
	conn     net.Conn
	dec      *resp.Decoder
}

func newFakeLeader(t *testing.T) *fakeLeader {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	return &fakeLeader{t: t, listener: listener}
}

func (l *fakeLeader) config() common.ClientConfig {
	return common.ClientConfig{Endpoint: l.listener.Addr().String(), TimeoutSecond: 2}
}

func (l *fakeLeader) accept() {
	conn, err := l.listener.Accept()
	require.NoError(l.t, err)
	l.t.Cleanup(func() { conn.Close() })
	l.conn = conn
	l.dec = resp.NewDecoder(conn)
}

// expect reads the next command and checks it against want
func (l *fakeLeader) expect(want ...string) {
	require.NoError(l.t, l.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	v, _, err := l.dec.ReadValue()
	require.NoError(l.t, err)
	args, err := v.Args()
	require.NoError(l.t, err)
	assert.Equal(l.t, want, args)
}

func (l *fakeLeader) send(payload []byte) {
	_, err := l.conn.Write(payload)
	require.NoError(l.t, err)
}

func (l *fakeLeader) handshake(replID string, offset string, snapshot []byte) {
	l.expect("PING")
	l.send(resp.Encode(resp.SimpleString("PONG")))
	l.expect("REPLCONF", "listening-port", "6380")
	l.send(resp.Encode(resp.SimpleString("OK")))
	l.expect("REPLCONF", "capa", "psync2")
	l.send(resp.Encode(resp.SimpleString("OK")))
	l.expect("PSYNC", "?", "-1")
	l.send(resp.Encode(resp.SimpleString("FULLRESYNC " + replID + " " + offset)))
	l.send(resp.EncodeBlob(snapshot))
}

func TestFollowerAppliesStream(t *testing.T) {
	leader := newFakeLeader(t)
	m := NewFollower("127.0.0.1", 6379)
	applier := &recordingApplier{}
	link := NewFollowerLink(m, leader.config(), 6380, applier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Run(ctx) }()

	leader.accept()
	leader.handshake(testReplID, "0", []byte("REDIS0011\xff"))

	set := resp.Encode(resp.Command("SET", "foo", "123"))
	getAck := resp.Encode(resp.Command("REPLCONF", "GETACK", "*"))

	leader.send(set)
	leader.send(getAck)
	leader.expect("REPLCONF", "ACK", "31")

	leader.send(getAck)
	leader.expect("REPLCONF", "ACK", "68")

	assert.Equal(t, [][]string{{"SET", "foo", "123"}}, applier.commands())
	assert.Equal(t, []byte("REDIS0011\xff"), applier.snapshot)
	assert.Equal(t, testReplID, m.ReplicationID())
	assert.True(t, m.LinkUp())
	assert.Equal(t, int64(len(set)+2*len(getAck)), m.Offset())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("follower link did not stop")
	}
	assert.False(t, m.LinkUp())
}

func TestFollowerOffsetStartsAtFullResync(t *testing.T) {
	leader := newFakeLeader(t)
	m := NewFollower("127.0.0.1", 6379)
	link := NewFollowerLink(m, leader.config(), 6380, &recordingApplier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	leader.accept()
	leader.handshake(testReplID, "1000", nil)
	leader.send(resp.Encode(resp.Command("REPLCONF", "GETACK", "*")))
	leader.expect("REPLCONF", "ACK", "1000")
}

func TestFollowerHandshakeRejected(t *testing.T) {
	leader := newFakeLeader(t)
	m := NewFollower("127.0.0.1", 6379)
	link := NewFollowerLink(m, leader.config(), 6380, &recordingApplier{})

	done := make(chan error, 1)
	go func() { done <- link.Run(context.Background()) }()

	leader.accept()
	leader.expect("PING")
	leader.send(resp.Encode(resp.Error("NOAUTH Authentication required.")))

	select {
	case err := <-done:
		var hsErr *HandshakeError
		require.True(t, errors.As(err, &hsErr))
		assert.Equal(t, "PING", hsErr.Step)
	case <-time.After(2 * time.Second):
		t.Fatal("follower link did not give up")
	}
}

func TestParseFullResync(t *testing.T) {
	id, offset, err := parseFullResync(resp.SimpleString("FULLRESYNC " + testReplID + " 42"))
	require.NoError(t, err)
	assert.Equal(t, testReplID, id)
	assert.Equal(t, int64(42), offset)

	for _, bad := range []resp.Value{
		resp.SimpleString("CONTINUE"),
		resp.SimpleString("FULLRESYNC id"),
		resp.SimpleString("FULLRESYNC id -1"),
		resp.BulkString("FULLRESYNC id 0"),
	} {
		_, _, err := parseFullResync(bad)
		assert.Error(t, err, bad.String())
	}
}
