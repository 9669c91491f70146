package replication

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSnapshotter []byte

func (s staticSnapshotter) Snapshot() ([]byte, error) {
	return s, nil
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

const testReplID = "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"

func TestAttachSendsFullResync(t *testing.T) {
	m := NewLeader(testReplID, staticSnapshotter("REDIS0011\xff"))

	var sink bytes.Buffer
	require.NoError(t, m.Attach(&sink, "127.0.0.1", 6380))

	want := "+FULLRESYNC " + testReplID + " 0\r\n$10\r\nREDIS0011\xff"
	assert.Equal(t, want, sink.String())
	assert.Equal(t, 1, m.FollowerCount())

	assert.Error(t, m.Attach(&sink, "127.0.0.1", 6380), "attaching twice must fail")
}

func TestExecutePropagatesInOrder(t *testing.T) {
	m := NewLeader(testReplID, staticSnapshotter("REDIS0011\xff"))

	var a, b bytes.Buffer
	require.NoError(t, m.Attach(&a, "127.0.0.1", 6380))
	require.NoError(t, m.Attach(&b, "127.0.0.1", 6381))
	a.Reset()
	b.Reset()

	var executed []string
	for _, key := range []string{"x", "y"} {
		err := m.Execute(func() ([]string, error) {
			executed = append(executed, key)
			return []string{"SET", key, "1"}, nil
		})
		require.NoError(t, err)
	}

	want := string(resp.Encode(resp.BulkStrings("SET", "x", "1"))) + string(resp.Encode(resp.BulkStrings("SET", "y", "1")))
	assert.Equal(t, []string{"x", "y"}, executed)
	assert.Equal(t, want, a.String())
	assert.Equal(t, want, b.String())
	assert.Equal(t, int64(len(want)), m.Offset())
}

func TestExecuteFailureIsNotPropagated(t *testing.T) {
	m := NewLeader(testReplID, staticSnapshotter(nil))
	var sink bytes.Buffer
	require.NoError(t, m.Attach(&sink, "127.0.0.1", 6380))
	sink.Reset()

	err := m.Execute(func() ([]string, error) { return nil, errors.New("not an integer") })
	assert.EqualError(t, err, "not an integer")
	assert.Zero(t, sink.Len())
	assert.Zero(t, m.Offset())
}

func TestFailingFollowerIsDropped(t *testing.T) {
	m := NewLeader(testReplID, staticSnapshotter(nil))
	var healthy bytes.Buffer
	require.NoError(t, m.Attach(&healthy, "127.0.0.1", 6380))

	// register a broken sink directly, Attach would already fail on it
	m.followers[failingWriter{}] = &followerState{addr: "10.0.0.1", port: 6381}
	require.Equal(t, 2, m.FollowerCount())

	m.Propagate([]string{"SET", "a", "1"})
	assert.Equal(t, 1, m.FollowerCount())
	assert.Contains(t, healthy.String(), "SET")
}

func TestSnapshotOffsetAfterWrites(t *testing.T) {
	m := NewLeader(testReplID, staticSnapshotter(nil))
	m.Propagate([]string{"SET", "a", "1"})
	offset := m.Offset()
	require.NotZero(t, offset)

	var sink bytes.Buffer
	require.NoError(t, m.Attach(&sink, "127.0.0.1", 6380))
	assert.True(t, bytes.HasPrefix(sink.Bytes(), []byte("+FULLRESYNC "+testReplID+" ")))
	assert.Contains(t, sink.String(), " 27\r\n")
	assert.Equal(t, int64(27), offset)
}

func TestDetachAndAck(t *testing.T) {
	m := NewLeader(testReplID, staticSnapshotter(nil))
	var sink bytes.Buffer
	require.NoError(t, m.Attach(&sink, "127.0.0.1", 6380))

	m.AckFollower(&sink, 42)
	followers := m.Followers()
	require.Len(t, followers, 1)
	assert.Equal(t, FollowerInfo{Addr: "127.0.0.1", Port: 6380, AckOffset: 42}, followers[0])

	m.Detach(&sink)
	assert.Zero(t, m.FollowerCount())
}

func TestLeaderInfo(t *testing.T) {
	m := NewLeader(testReplID, staticSnapshotter(nil))
	var sink bytes.Buffer
	require.NoError(t, m.Attach(&sink, "127.0.0.1", 6380))

	assert.Equal(t, []string{
		"role:master",
		"connected_slaves:1",
		"slave0:ip=127.0.0.1,port=6380,state=online,offset=0,lag=0",
		"master_replid:" + testReplID,
		"master_repl_offset:0",
	}, m.Info())
}

func TestFollowerInfo(t *testing.T) {
	m := NewFollower("localhost", 6379)
	assert.False(t, m.IsLeader())
	assert.Equal(t, "?", m.ReplicationID())

	m.resynced(testReplID, 100)
	m.setLinkUp(true)
	m.AddOffset(14)

	assert.Equal(t, []string{
		"role:slave",
		"master_host:localhost",
		"master_port:6379",
		"master_link_status:up",
		"slave_repl_offset:114",
		"slave_read_only:1",
		"connected_slaves:0",
		"master_replid:" + testReplID,
		"master_repl_offset:114",
	}, m.Info())

	assert.Error(t, m.Attach(&bytes.Buffer{}, "127.0.0.1", 6380))
}
