package server

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnWriterEnsureTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		least   time.Duration
		want    time.Duration
	}{
		{"Disabled", 0, time.Second, time.Second},
		{"Shorter", 100 * time.Millisecond, time.Second, time.Second},
		{"Longer", time.Minute, time.Second, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newConnWriter(nil, tt.timeout)
			w.ensureTimeout(tt.least)
			assert.Equal(t, tt.want, w.timeout)
		})
	}
}

func TestStalledFollowerWriteTimesOut(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	// nobody reads from peer, without a deadline the write blocks forever
	w := newConnWriter(conn, 0)
	w.ensureTimeout(50 * time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.WriteValue(resp.Command("SET", "k", "v"))
	}()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("write to a stalled follower did not time out")
	}
}
