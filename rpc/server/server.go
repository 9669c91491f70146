package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/rKV/lib/rdb"
	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
	"github.com/ValentinKolb/rKV/lib/util"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/replication"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/http"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("server")

const (
	// followerRetryCount bounds the dial attempts of the follower link
	followerRetryCount = 10
	// followerPingPeriod is the interval of the PING a leader sends down the
	// replication stream while followers are attached
	followerPingPeriod = 10 * time.Second
	// followerWriteTimeout is the least write deadline of a follower
	// connection, propagation holds the replication lock while writing
	followerWriteTimeout = 10 * time.Second
)

// Server routes decoded requests into the store and the replication manager
type Server struct {
	config common.ServerConfig
	store  store.IStore
	repl   *replication.Manager
	stats  *common.Stats
	link   *replication.Follower

	sessions *xsync.MapOf[uint64, *session]
	nextID   atomic.Uint64
}

// Option configures optional parts of a Server
type Option func(*Server)

// WithStore replaces the default local store
func WithStore(st store.IStore) Option {
	return func(s *Server) {
		s.store = st
	}
}

// NewServer creates a server for config. The replication role is derived
// from config.ReplicaOf and fixed for the lifetime of the server.
//
// Usage:
//
//	s, err := server.NewServer(config)
//	if err != nil {
//		return err
//	}
//	if err := s.Serve(ctx); err != nil {
//		return err
//	}
func NewServer(config common.ServerConfig, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &Server{
		config:   config,
		stats:    common.NewStats(),
		sessions: xsync.NewMapOf[uint64, *session](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = lstore.NewLocalStore()
	}

	if config.IsFollower() {
		host, port, err := config.LeaderAddress()
		if err != nil {
			return nil, err
		}
		s.repl = replication.NewFollower(host, port)
		leader := common.ClientConfig{
			Endpoint:      net.JoinHostPort(host, strconv.Itoa(port)),
			Transport:     "tcp",
			TimeoutSecond: int(config.TimeoutSecond),
			RetryCount:    followerRetryCount,
		}
		s.link = replication.NewFollowerLink(s.repl, leader, config.Port, s)
	} else {
		replID := config.ReplicationID
		if replID == "" {
			replID = util.GenerateReplicationID()
		}
		s.repl = replication.NewLeader(replID, rdb.NewSnapshotter(s.store))
	}

	s.stats.RegisterGauge("rkv_connected_followers", func() float64 {
		return float64(s.repl.FollowerCount())
	})
	s.stats.RegisterGauge("rkv_replication_offset", func() float64 {
		return float64(max(s.repl.Offset(), 0))
	})

	Logger.Infof("Created %s server", s.repl.Role())
	Logger.Infof("%s", config.String())
	return s, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (s *Server) Store() store.IStore {
	return s.store
}

func (s *Server) Replication() *replication.Manager {
	return s.repl
}

func (s *Server) Stats() *common.Stats {
	return s.stats
}

// FollowerLink returns the link to the leader, nil on a leader
func (s *Server) FollowerLink() *replication.Follower {
	return s.link
}

// Handler returns the connection handler to register with a server transport
func (s *Server) Handler() transport.ConnHandleFunc {
	return s.handleConnection
}

// --------------------------------------------------------------------------
// Bootstrap
// --------------------------------------------------------------------------

// Serve loads the snapshot file, then runs the tcp listener, the optional
// unix listener, the follower link and the metrics endpoint until ctx is done
// or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.LoadSnapshotFile(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	tcpTransport := tcp.NewTCPServerTransport()
	tcpTransport.RegisterHandler(s.handleConnection)
	g.Go(func() error {
		return tcpTransport.Listen(gctx, s.config)
	})

	if s.config.UnixSocket != "" {
		unixTransport := unix.NewUnixServerTransport()
		unixTransport.RegisterHandler(s.handleConnection)
		g.Go(func() error {
			return unixTransport.Listen(gctx, s.config)
		})
	}

	if s.link != nil {
		g.Go(func() error {
			return s.link.Run(gctx)
		})
	} else {
		g.Go(func() error {
			s.pingFollowers(gctx, followerPingPeriod)
			return nil
		})
	}

	if s.config.MetricsEndpoint != "" {
		metricsServer := http.NewMetricsServer(s.stats.Handler(), s.config.LogLevel == "debug")
		g.Go(func() error {
			return metricsServer.ListenAndServe(gctx, s.config.MetricsEndpoint)
		})
	}

	return g.Wait()
}

// LoadSnapshotFile seeds the store from the configured snapshot file. A
// missing file is not an error.
func (s *Server) LoadSnapshotFile() error {
	records, err := rdb.LoadFile(s.config.SnapshotPath())
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	return s.store.Load(records)
}

// pingFollowers propagates PING to attached followers every period so they
// can tell an idle leader from a dead link
func (s *Server) pingFollowers(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.repl.FollowerCount() > 0 {
				s.repl.Propagate([]string{"PING"})
			}
		}
	}
}

// --------------------------------------------------------------------------
// Replication applier (docu see replication.Applier)
// --------------------------------------------------------------------------

func (s *Server) LoadSnapshot(blob []byte) error {
	records, err := rdb.Decode(blob)
	if err != nil {
		return err
	}
	return s.store.Load(records)
}

func (s *Server) Apply(argv []string) error {
	cmd, err := ParseCommand(argv)
	if err != nil {
		return err
	}
	if !cmd.Kind.IsWrite() {
		Logger.Debugf("Ignoring replicated %s", cmd.Kind)
		return nil
	}
	_, _, err = s.applyWrite(cmd)
	return err
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

// handleConnection serves one client (or follower) connection until the peer
// hangs up, a protocol error occurs or ctx is done
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	id := s.nextID.Add(1)
	sess := newSession(id, conn, s.config.Timeout())
	s.sessions.Store(id, sess)
	s.stats.ConnectionOpened()
	Logger.Debugf("Client %d connected from %s", id, conn.RemoteAddr())

	defer func() {
		if sess.follower {
			s.repl.Detach(sess.writer)
		}
		s.sessions.Delete(id)
		s.stats.ConnectionClosed()
		Logger.Debugf("Client %d disconnected", id)
	}()

	// connCtx ends when the peer hangs up, so a blocked XREAD of this
	// connection returns without waiting for data or shutdown
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// closing the connection unblocks the pending read on shutdown
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	requests := make(chan request)
	done := make(chan struct{})
	defer close(done)
	go readRequests(conn, cancel, requests, done)

	for req := range requests {
		if req.err != nil {
			s.connectionError(ctx, sess, req.err)
			return
		}

		reply, ok := s.dispatch(connCtx, sess, req.argv)
		if !ok {
			continue
		}
		if err := sess.writer.WriteValue(reply); err != nil {
			Logger.Debugf("Failed to reply to client %d: %v", id, err)
			return
		}
	}
}

// request is one decoded request or the error that ended the connection
type request struct {
	argv []string
	err  error
}

// readRequests decodes requests from conn until a read fails. The failure is
// delivered as last request, cancel is called right away so a command still
// running for this connection stops waiting. done is closed once the handler
// no longer receives.
func readRequests(conn net.Conn, cancel context.CancelFunc, requests chan<- request, done <-chan struct{}) {
	defer close(requests)

	dec := resp.NewDecoder(conn)
	for {
		var req request
		v, _, err := dec.ReadValue()
		if err == nil {
			req.argv, err = v.Args()
		}
		if err != nil {
			req = request{err: err}
			cancel()
		}

		select {
		case requests <- req:
		case <-done:
			return
		}
		if req.err != nil {
			return
		}
	}
}

// connectionError answers protocol errors before the connection is closed
func (s *Server) connectionError(ctx context.Context, sess *session, err error) {
	var protoErr *resp.ProtocolError
	switch {
	case errors.As(err, &protoErr):
		Logger.Debugf("Closing client %d: %v", sess.id, err)
		_ = sess.writer.WriteValue(resp.Error("ERR " + protoErr.Error()))
	case errors.Is(err, io.EOF), ctx.Err() != nil:
	default:
		Logger.Debugf("Read from client %d failed: %v", sess.id, err)
	}
}

// ClientCount returns the number of open connections
func (s *Server) ClientCount() int {
	return s.sessions.Size()
}
