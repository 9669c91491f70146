package replication

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/ValentinKolb/rKV/rpc/common"
)

// Applier applies the replication stream to the local node
type Applier interface {
	// LoadSnapshot seeds the local store with a full resync payload
	LoadSnapshot(blob []byte) error
	// Apply executes a propagated command without producing a reply
	Apply(argv []string) error
}

// HandshakeError reports a deviation from the expected handshake with the leader
type HandshakeError struct {
	Step string // the request that failed, e.g. "PSYNC"
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("replication handshake failed at %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Follower drives the link of a follower node to its leader: dial,
// handshake, full resync, then applying the command stream.
type Follower struct {
	manager       *Manager
	leader        common.ClientConfig
	listeningPort int
	applier       Applier
}

// NewFollowerLink creates the replication link of a follower. listeningPort
// is announced to the leader with REPLCONF listening-port.
func NewFollowerLink(manager *Manager, leader common.ClientConfig, listeningPort int, applier Applier) *Follower {
	return &Follower{
		manager:       manager,
		leader:        leader,
		listeningPort: listeningPort,
		applier:       applier,
	}
}

// Run connects to the leader and applies the replication stream until ctx is
// done. A failed initial connection or handshake is returned as error. If an
// established link drops, Run reconnects with a fresh full resync.
func (f *Follower) Run(ctx context.Context) error {
	for {
		c, err := f.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = f.Stream(ctx, c)
		c.Close()
		f.manager.setLinkUp(false)
		if ctx.Err() != nil {
			return nil
		}
		Logger.Warningf("Lost connection to leader %s: %v; reconnecting", f.leader.Endpoint, err)
	}
}

// Connect dials the leader and performs the handshake
func (f *Follower) Connect(ctx context.Context) (*client.Client, error) {
	c, err := client.Dial(ctx, f.leader)
	if err != nil {
		return nil, err
	}
	if err := f.Handshake(c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Handshake runs the initiating side of the handshake on c and loads the
// snapshot sent by the leader
func (f *Follower) Handshake(c *client.Client) error {
	expect := func(step, want string, name string, args ...string) error {
		v, err := c.Do(name, args...)
		if err != nil {
			return &HandshakeError{Step: step, Err: err}
		}
		if v.Kind != resp.KindSimpleString || !strings.EqualFold(v.Str, want) {
			return &HandshakeError{Step: step, Err: fmt.Errorf("expected +%s, got %s", want, v)}
		}
		return nil
	}

	if err := expect("PING", "PONG", "PING"); err != nil {
		return err
	}
	if err := expect("REPLCONF listening-port", "OK", "REPLCONF", "listening-port", strconv.Itoa(f.listeningPort)); err != nil {
		return err
	}
	if err := expect("REPLCONF capa", "OK", "REPLCONF", "capa", "psync2"); err != nil {
		return err
	}

	if err := c.Send("PSYNC", "?", "-1"); err != nil {
		return &HandshakeError{Step: "PSYNC", Err: err}
	}
	v, _, err := c.Receive()
	if err != nil {
		return &HandshakeError{Step: "PSYNC", Err: err}
	}
	replID, offset, err := parseFullResync(v)
	if err != nil {
		return &HandshakeError{Step: "PSYNC", Err: err}
	}

	blob, _, err := c.ReadBlob()
	if err != nil {
		return &HandshakeError{Step: "FULLRESYNC payload", Err: err}
	}
	if err := f.applier.LoadSnapshot(blob); err != nil {
		return &HandshakeError{Step: "FULLRESYNC payload", Err: err}
	}

	f.manager.resynced(replID, offset)
	f.manager.setLinkUp(true)
	Logger.Infof("Full resync with leader %s done (replid %s, offset %d, %d byte snapshot)", f.leader.Endpoint, replID, offset, len(blob))
	return nil
}

// Stream applies propagated commands read from c until the connection fails
// or ctx is done. REPLCONF GETACK is answered with the offset processed
// before the request. Every command then adds its wire size to the offset.
func (f *Follower) Stream(ctx context.Context, c *client.Client) error {
	c.SetTimeout(0)

	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	defer stop()

	for {
		v, n, err := c.Receive()
		if err != nil {
			return err
		}

		argv, err := v.Args()
		if err != nil {
			Logger.Warningf("Ignoring unexpected value in replication stream: %s", v)
			f.manager.AddOffset(n)
			continue
		}

		if !isGetAck(argv) {
			if err := f.applier.Apply(argv); err != nil {
				Logger.Warningf("Failed to apply replicated %s: %v", argv[0], err)
			}
			f.manager.AddOffset(n)
			continue
		}

		processed := f.manager.Offset()
		f.manager.AddOffset(n)
		ack := resp.Command("REPLCONF", "ACK", strconv.FormatInt(processed, 10))
		if err := c.Write(ack); err != nil {
			return fmt.Errorf("failed to send ACK: %w", err)
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func isGetAck(argv []string) bool {
	return len(argv) >= 2 && strings.EqualFold(argv[0], "REPLCONF") && strings.EqualFold(argv[1], "GETACK")
}

// parseFullResync parses "+FULLRESYNC <replid> <offset>"
func parseFullResync(v resp.Value) (string, int64, error) {
	if v.Kind != resp.KindSimpleString {
		return "", 0, fmt.Errorf("expected +FULLRESYNC, got %s", v)
	}
	fields := strings.Fields(v.Str)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "FULLRESYNC") {
		return "", 0, fmt.Errorf("expected +FULLRESYNC <replid> <offset>, got %q", v.Str)
	}
	offset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || offset < 0 {
		return "", 0, errors.New("invalid offset in FULLRESYNC")
	}
	return fields[1], offset, nil
}
