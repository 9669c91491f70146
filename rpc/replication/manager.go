package replication

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("replication")

// Role is the fixed replication role of a process
type Role uint8

const (
	RoleLeader Role = iota
	RoleFollower
)

// String returns the role name reported by INFO replication
func (r Role) String() string {
	if r == RoleFollower {
		return "slave"
	}
	return "master"
}

// Snapshotter produces the payload sent to a follower during a full resync
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// followerState is the leader side view of one attached follower
type followerState struct {
	addr      string
	port      int
	ackOffset int64
}

// FollowerInfo describes an attached follower
type FollowerInfo struct {
	Addr      string
	Port      int
	AckOffset int64
}

// Manager holds the replication state of a process.
//
// On a leader it owns the set of follower sinks and the replication offset.
// Attach (full resync + registration) and Execute (write + propagation) run
// under the same lock, so every follower receives every write that was not
// part of its snapshot exactly once and in execution order.
//
// On a follower it tracks the link to the leader and the number of
// replication stream bytes processed.
//
// Thread-safety: All methods are safe for concurrent use.
type Manager struct {
	role        Role
	snapshotter Snapshotter

	mu        sync.Mutex
	replID    string
	offset    int64
	followers map[io.Writer]*followerState

	// follower role only
	leaderHost string
	leaderPort int
	linkUp     atomic.Bool
}

// NewLeader creates the manager of a leader process
func NewLeader(replID string, snapshotter Snapshotter) *Manager {
	return &Manager{
		role:        RoleLeader,
		replID:      replID,
		snapshotter: snapshotter,
		followers:   make(map[io.Writer]*followerState),
	}
}

// NewFollower creates the manager of a follower process. The replication id
// is unknown ("?") until the first full resync.
func NewFollower(leaderHost string, leaderPort int) *Manager {
	return &Manager{
		role:       RoleFollower,
		replID:     "?",
		offset:     -1,
		followers:  make(map[io.Writer]*followerState),
		leaderHost: leaderHost,
		leaderPort: leaderPort,
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (m *Manager) Role() Role {
	return m.role
}

func (m *Manager) IsLeader() bool {
	return m.role == RoleLeader
}

func (m *Manager) ReplicationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replID
}

// Offset returns the replication offset in bytes
func (m *Manager) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// FollowerCount returns the number of attached followers
func (m *Manager) FollowerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.followers)
}

// Followers returns the attached followers sorted by address
func (m *Manager) Followers() []FollowerInfo {
	m.mu.Lock()
	infos := make([]FollowerInfo, 0, len(m.followers))
	for _, f := range m.followers {
		infos = append(infos, FollowerInfo{Addr: f.addr, Port: f.port, AckOffset: f.ackOffset})
	}
	m.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Addr != infos[j].Addr {
			return infos[i].Addr < infos[j].Addr
		}
		return infos[i].Port < infos[j].Port
	})
	return infos
}

// LinkUp reports whether a follower is connected to its leader
func (m *Manager) LinkUp() bool {
	return m.linkUp.Load()
}

// --------------------------------------------------------------------------
// Leader
// --------------------------------------------------------------------------

// Execute runs a write command and, if it succeeded, propagates the argv
// returned by exec to all followers before the lock is released. exec returns
// the command in the form followers must replay, e.g. with generated stream
// ids resolved. On a follower exec is just run.
func (m *Manager) Execute(exec func() (argv []string, err error)) error {
	if m.role != RoleLeader {
		_, err := exec()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	argv, err := exec()
	if err != nil {
		return err
	}
	m.propagateLocked(argv)
	return nil
}

// Propagate sends argv to all followers without executing anything.
// Used for commands that are replicated but not tied to a local write.
func (m *Manager) Propagate(argv []string) {
	if m.role != RoleLeader {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propagateLocked(argv)
}

// Attach performs the full resync for a new follower on sink and registers
// it. addr and port identify the follower in INFO.
func (m *Manager) Attach(sink io.Writer, addr string, port int) error {
	if m.role != RoleLeader {
		return fmt.Errorf("cannot attach followers to a %s", m.role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.followers[sink]; ok {
		return fmt.Errorf("follower %s is already attached", addr)
	}

	blob, err := m.snapshotter.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	payload := resp.AppendEncode(nil, resp.SimpleString(fmt.Sprintf("FULLRESYNC %s %d", m.replID, m.offset)))
	payload = append(payload, resp.EncodeBlob(blob)...)
	if _, err := sink.Write(payload); err != nil {
		return fmt.Errorf("failed to send snapshot: %w", err)
	}

	m.followers[sink] = &followerState{addr: addr, port: port}
	Logger.Infof("Follower %s (port %d) attached at offset %d with %d byte snapshot", addr, port, m.offset, len(blob))
	return nil
}

// Detach removes the follower writing to sink, if any
func (m *Manager) Detach(sink io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.followers[sink]; ok {
		delete(m.followers, sink)
		Logger.Infof("Follower %s detached", f.addr)
	}
}

// AckFollower records the offset acknowledged by the follower on sink
func (m *Manager) AckFollower(sink io.Writer, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.followers[sink]; ok {
		f.ackOffset = offset
	}
}

// propagateLocked writes argv to every follower. A failing sink is removed,
// the others still receive the command.
//
// Thread-safety: The caller must hold m.mu.
func (m *Manager) propagateLocked(argv []string) {
	payload := resp.Encode(resp.BulkStrings(argv...))
	for sink, f := range m.followers {
		if _, err := sink.Write(payload); err != nil {
			Logger.Warningf("Dropping follower %s after failed propagation: %v", f.addr, err)
			delete(m.followers, sink)
		}
	}
	m.offset += int64(len(payload))
}

// --------------------------------------------------------------------------
// Follower
// --------------------------------------------------------------------------

// resynced records the result of a full resync with the leader
func (m *Manager) resynced(replID string, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replID = replID
	m.offset = offset
}

// AddOffset adds n processed replication bytes
func (m *Manager) AddOffset(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset += int64(n)
}

func (m *Manager) setLinkUp(up bool) {
	m.linkUp.Store(up)
}

// --------------------------------------------------------------------------
// INFO
// --------------------------------------------------------------------------

// Info returns the fields of the INFO replication section, one "name:value" per line
func (m *Manager) Info() []string {
	m.mu.Lock()
	replID, offset := m.replID, m.offset
	m.mu.Unlock()

	lines := []string{"role:" + m.role.String()}
	if m.role == RoleFollower {
		status := "down"
		if m.LinkUp() {
			status = "up"
		}
		lines = append(lines,
			"master_host:"+m.leaderHost,
			"master_port:"+strconv.Itoa(m.leaderPort),
			"master_link_status:"+status,
			"slave_repl_offset:"+strconv.FormatInt(offset, 10),
			"slave_read_only:1",
		)
	}

	followers := m.Followers()
	lines = append(lines, "connected_slaves:"+strconv.Itoa(len(followers)))
	for i, f := range followers {
		lines = append(lines, fmt.Sprintf("slave%d:ip=%s,port=%d,state=online,offset=%d,lag=0", i, f.Addr, f.Port, f.AckOffset))
	}

	lines = append(lines,
		"master_replid:"+replID,
		"master_repl_offset:"+strconv.FormatInt(max(offset, 0), 10),
	)
	return lines
}

// String returns the INFO replication fields joined by CRLF
func (m *Manager) String() string {
	return strings.Join(m.Info(), "\r\n")
}
