package server

import (
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
)

// connWriter serializes all writes to a connection. Client replies and, once
// the connection became a follower, propagated commands share the socket.
type connWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	buf     []byte
}

func newConnWriter(conn net.Conn, timeout time.Duration) *connWriter {
	return &connWriter{conn: conn, timeout: timeout}
}

// Write implements io.Writer, so a connWriter can be registered as follower sink
func (w *connWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(p)
}

// ensureTimeout raises the write deadline to at least least. A zero timeout
// means no deadline and is always raised.
func (w *connWriter) ensureTimeout(least time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout < least {
		w.timeout = least
	}
}

// WriteValue encodes and writes a single value
func (w *connWriter) WriteValue(v resp.Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = resp.AppendEncode(w.buf[:0], v)
	_, err := w.writeLocked(w.buf)
	return err
}

func (w *connWriter) writeLocked(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.conn.Write(p)
}

// session is the per-connection state
type session struct {
	id      uint64
	conn    net.Conn
	writer  *connWriter
	tx      *store.Transaction
	created time.Time

	// set by REPLCONF listening-port during the follower handshake
	listeningPort int
	// set once PSYNC attached the connection as follower sink
	follower bool
}

func newSession(id uint64, conn net.Conn, timeout time.Duration) *session {
	return &session{
		id:      id,
		conn:    conn,
		writer:  newConnWriter(conn, timeout),
		tx:      store.NewTransaction(),
		created: time.Now(),
	}
}

// remoteHost returns the host part of the peer address
func (s *session) remoteHost() string {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
