package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/common"
)

// errNoReply is returned by handlers that answer on their own (PSYNC) or
// must not answer at all (REPLCONF ACK)
var errNoReply = errors.New("no reply")

var (
	errInvalidExpire = store.NewError(store.RetCSyntaxError, "ERR invalid expire time in 'set' command")
	errUnbalanced    = store.NewError(store.RetCSyntaxError, "ERR Unbalanced 'xread' list of streams: for each stream key an ID or '$' must be specified.")
	errPsyncFollower = store.NewError(store.RetCInternalError, "ERR Can't PSYNC against a replica")
)

// redisVersion is reported to clients that check for feature support
const redisVersion = "7.2.0"

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// dispatch parses and runs one request. The boolean return value is false if
// no reply must be written.
func (s *Server) dispatch(ctx context.Context, sess *session, argv []string) (resp.Value, bool) {
	start := time.Now()

	cmd, err := ParseCommand(argv)
	if err != nil {
		sess.tx.MarkDirty()
		return errorReply(err), true
	}

	if sess.tx.Queuing() && !cmd.Kind.controlsTransaction() {
		if cmd.Kind.IsWrite() && !s.repl.IsLeader() {
			sess.tx.MarkDirty()
			return errorReply(store.ErrReadOnly), true
		}
		sess.tx.Enqueue(cmd.Argv)
		return resp.SimpleString("QUEUED"), true
	}

	reply, err := s.execute(ctx, sess, cmd, false)
	s.stats.ObserveCommand(cmd.Kind.String(), time.Since(start), err != nil && !errors.Is(err, errNoReply))

	switch {
	case errors.Is(err, errNoReply):
		return resp.Value{}, false
	case err != nil:
		return errorReply(err), true
	default:
		return reply, true
	}
}

// execute runs a parsed command. inTx is set for commands run by EXEC, which
// never block.
func (s *Server) execute(ctx context.Context, sess *session, cmd Command, inTx bool) (resp.Value, error) {
	switch cmd.Kind {
	case CmdPing:
		if len(cmd.Args) == 1 {
			return resp.BulkString(cmd.Args[0]), nil
		}
		return resp.SimpleString("PONG"), nil
	case CmdEcho:
		return resp.BulkString(cmd.Args[0]), nil
	case CmdSet, CmdIncr, CmdXAdd:
		return s.write(cmd)
	case CmdGet:
		return s.get(cmd)
	case CmdConfig:
		return s.configCmd(cmd)
	case CmdKeys:
		keys, err := s.store.Keys(cmd.Args[0])
		if err != nil {
			return resp.Value{}, err
		}
		return resp.BulkStrings(keys...), nil
	case CmdType:
		t, err := s.store.Type(cmd.Args[0])
		if err != nil {
			return resp.Value{}, err
		}
		return resp.SimpleString(t.String()), nil
	case CmdInfo:
		return resp.BulkString(s.info(cmd.Args)), nil
	case CmdReplconf:
		return s.replconf(sess, cmd)
	case CmdPsync:
		return s.psync(sess)
	case CmdXRange:
		return s.xrange(cmd)
	case CmdXRead:
		return s.xread(ctx, cmd, inTx)
	case CmdMulti:
		if err := sess.tx.Begin(); err != nil {
			return resp.Value{}, err
		}
		return resp.SimpleString("OK"), nil
	case CmdExec:
		return s.exec(ctx, sess)
	case CmdDiscard:
		if err := sess.tx.Discard(); err != nil {
			return resp.Value{}, err
		}
		return resp.SimpleString("OK"), nil
	default:
		return resp.Value{}, fmt.Errorf("command %s is not implemented", cmd.Kind)
	}
}

// errorReply converts an error into the reply sent to the client
func errorReply(err error) resp.Value {
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return resp.Error(storeErr.Msg)
	}
	return resp.Error("ERR " + err.Error())
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// write runs a write command through the replication manager. Followers
// reject writes from clients.
func (s *Server) write(cmd Command) (resp.Value, error) {
	if !s.repl.IsLeader() {
		return resp.Value{}, store.ErrReadOnly
	}
	var reply resp.Value
	err := s.repl.Execute(func() ([]string, error) {
		var replay []string
		var err error
		reply, replay, err = s.applyWrite(cmd)
		return replay, err
	})
	return reply, err
}

// applyWrite runs a write command against the store without any role checks.
// It is used by leaders (inside Execute) and by followers applying the stream.
// Besides the reply it returns the argv that reproduces the write on a
// follower: XADD with a generated id is replayed with the id it got.
func (s *Server) applyWrite(cmd Command) (resp.Value, []string, error) {
	switch cmd.Kind {
	case CmdSet:
		ttl, err := parseSetExpiry(cmd.Args[2:])
		if err != nil {
			return resp.Value{}, nil, err
		}
		if err := s.store.Set(cmd.Args[0], cmd.Args[1], ttl); err != nil {
			return resp.Value{}, nil, err
		}
		return resp.SimpleString("OK"), cmd.Argv, nil

	case CmdIncr:
		n, err := s.store.Incr(cmd.Args[0])
		if err != nil {
			return resp.Value{}, nil, err
		}
		return resp.Integer(n), cmd.Argv, nil

	case CmdXAdd:
		pairs := cmd.Args[2:]
		fields := make([]store.Field, 0, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			fields = append(fields, store.Field{Name: pairs[i], Value: pairs[i+1]})
		}
		id, err := s.store.XAdd(cmd.Args[0], cmd.Args[1], fields)
		if err != nil {
			return resp.Value{}, nil, err
		}
		replay := slices.Clone(cmd.Argv)
		replay[2] = id.String()
		return resp.BulkString(id.String()), replay, nil

	default:
		return resp.Value{}, nil, fmt.Errorf("%s is not a write command", cmd.Kind)
	}
}

// parseSetExpiry parses the optional "PX ms" / "EX s" arguments of SET
func parseSetExpiry(opts []string) (time.Duration, error) {
	switch len(opts) {
	case 0:
		return 0, nil
	case 2:
	default:
		return 0, store.ErrSyntax
	}

	var unit time.Duration
	switch strings.ToUpper(opts[0]) {
	case "PX":
		unit = time.Millisecond
	case "EX":
		unit = time.Second
	default:
		return 0, store.ErrSyntax
	}

	n, err := strconv.ParseInt(opts[1], 10, 64)
	if err != nil {
		return 0, store.ErrNotInteger
	}
	if n <= 0 || n > int64(time.Duration(1<<62)/unit) {
		return 0, errInvalidExpire
	}
	return time.Duration(n) * unit, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (s *Server) get(cmd Command) (resp.Value, error) {
	value, ok, err := s.store.Get(cmd.Args[0])
	if err != nil {
		return resp.Value{}, err
	}
	if !ok {
		return resp.Null(), nil
	}
	return resp.BulkString(value), nil
}

func (s *Server) configCmd(cmd Command) (resp.Value, error) {
	if !strings.EqualFold(cmd.Args[0], "GET") {
		return resp.Value{}, store.Errorf(store.RetCSyntaxError, "ERR unknown subcommand '%s'. Try CONFIG HELP.", cmd.Args[0])
	}

	var pairs []string
	for _, param := range cmd.Args[1:] {
		switch strings.ToLower(param) {
		case "dir":
			pairs = append(pairs, "dir", s.config.Dir)
		case "dbfilename":
			pairs = append(pairs, "dbfilename", s.config.DBFilename)
		case "port":
			pairs = append(pairs, "port", strconv.Itoa(s.config.Port))
		}
	}
	return resp.BulkStrings(pairs...), nil
}

func (s *Server) xrange(cmd Command) (resp.Value, error) {
	count := 0
	switch len(cmd.Args) {
	case 3:
	case 5:
		if !strings.EqualFold(cmd.Args[3], "COUNT") {
			return resp.Value{}, store.ErrSyntax
		}
		n, err := strconv.Atoi(cmd.Args[4])
		if err != nil {
			return resp.Value{}, store.ErrNotInteger
		}
		if n <= 0 {
			return resp.Array(), nil
		}
		count = n
	default:
		return resp.Value{}, store.ErrSyntax
	}

	entries, err := s.store.XRange(cmd.Args[0], cmd.Args[1], cmd.Args[2], count)
	if err != nil {
		return resp.Value{}, err
	}
	return encodeEntries(entries), nil
}

// xread parses "[COUNT n] [BLOCK ms] STREAMS key... id..."
func (s *Server) xread(ctx context.Context, cmd Command, inTx bool) (resp.Value, error) {
	var (
		count   int
		block   bool
		timeout time.Duration
		streams []string
	)

	args := cmd.Args
	for i := 0; i < len(args) && streams == nil; i++ {
		switch strings.ToUpper(args[i]) {
		case "COUNT":
			if i+1 >= len(args) {
				return resp.Value{}, store.ErrSyntax
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return resp.Value{}, store.ErrNotInteger
			}
			count = n
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return resp.Value{}, store.ErrSyntax
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || ms < 0 {
				return resp.Value{}, store.NewError(store.RetCSyntaxError, "ERR timeout is not an integer or out of range")
			}
			block = true
			timeout = time.Duration(ms) * time.Millisecond
			i++
		case "STREAMS":
			streams = args[i+1:]
		default:
			return resp.Value{}, store.ErrSyntax
		}
	}
	if len(streams) == 0 {
		return resp.Value{}, store.ErrSyntax
	}
	if len(streams)%2 != 0 {
		return resp.Value{}, errUnbalanced
	}

	n := len(streams) / 2
	queries := make([]store.StreamQuery, n)
	for i := 0; i < n; i++ {
		queries[i].Key = streams[i]
		id := streams[n+i]
		if id == "$" {
			queries[i].Latest = true
			continue
		}
		after, err := store.ParseStreamID(id)
		if err != nil {
			return resp.Value{}, err
		}
		queries[i].After = after
	}

	var results []store.StreamResult
	var err error
	if block && !inTx {
		results, err = s.store.XReadBlock(ctx, queries, count, timeout)
	} else {
		results, err = s.store.XRead(queries, count)
	}
	if err != nil {
		return resp.Value{}, err
	}
	if len(results) == 0 {
		return resp.Null(), nil
	}

	out := make([]resp.Value, len(results))
	for i, r := range results {
		out[i] = resp.Array(resp.BulkString(r.Key), encodeEntries(r.Entries))
	}
	return resp.Array(out...), nil
}

// encodeEntries encodes stream entries as [[id, [field, value, ...]], ...]
func encodeEntries(entries []store.StreamEntry) resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		fields := make([]string, 0, 2*len(e.Fields))
		for _, f := range e.Fields {
			fields = append(fields, f.Name, f.Value)
		}
		out[i] = resp.Array(resp.BulkString(e.ID.String()), resp.BulkStrings(fields...))
	}
	return resp.Array(out...)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// exec runs the queued commands in order and collects every reply
func (s *Server) exec(ctx context.Context, sess *session) (resp.Value, error) {
	queued, err := sess.tx.Drain()
	if err != nil {
		return resp.Value{}, err
	}

	results := make([]resp.Value, 0, len(queued))
	for _, argv := range queued {
		cmd, err := ParseCommand(argv)
		if err != nil {
			results = append(results, errorReply(err))
			continue
		}
		reply, err := s.execute(ctx, sess, cmd, true)
		switch {
		case errors.Is(err, errNoReply):
			results = append(results, resp.Null())
		case err != nil:
			results = append(results, errorReply(err))
		default:
			results = append(results, reply)
		}
	}
	return resp.Array(results...), nil
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

func (s *Server) replconf(sess *session, cmd Command) (resp.Value, error) {
	switch strings.ToLower(cmd.Args[0]) {
	case "listening-port":
		if len(cmd.Args) != 2 {
			return resp.Value{}, store.ErrSyntax
		}
		port, err := strconv.Atoi(cmd.Args[1])
		if err != nil || port < 0 || port > 65535 {
			return resp.Value{}, store.ErrNotInteger
		}
		sess.listeningPort = port
		return resp.SimpleString("OK"), nil

	case "capa":
		return resp.SimpleString("OK"), nil

	case "ack":
		if len(cmd.Args) == 2 && sess.follower {
			if offset, err := strconv.ParseInt(cmd.Args[1], 10, 64); err == nil {
				s.repl.AckFollower(sess.writer, offset)
			}
		}
		return resp.Value{}, errNoReply

	case "getack":
		return resp.BulkStrings("REPLCONF", "ACK", strconv.FormatInt(max(s.repl.Offset(), 0), 10)), nil

	default:
		return resp.Value{}, store.Errorf(store.RetCSyntaxError, "ERR Unrecognized REPLCONF option: %s", cmd.Args[0])
	}
}

// psync attaches the connection as follower. The full resync payload is
// written by the replication manager.
func (s *Server) psync(sess *session) (resp.Value, error) {
	if !s.repl.IsLeader() {
		return resp.Value{}, errPsyncFollower
	}
	if sess.follower {
		return resp.Value{}, errNoReply
	}
	sess.writer.ensureTimeout(followerWriteTimeout)
	if err := s.repl.Attach(sess.writer, sess.remoteHost(), sess.listeningPort); err != nil {
		return resp.Value{}, err
	}
	sess.follower = true
	return resp.Value{}, errNoReply
}

// --------------------------------------------------------------------------
// INFO
// --------------------------------------------------------------------------

var infoSections = []string{"server", "clients", "stats", "commandstats", "replication"}

// info renders the requested sections. No argument, "all", "everything" and
// "default" select every section.
func (s *Server) info(args []string) string {
	selected := make(map[string]bool)
	if len(args) == 0 {
		args = []string{"all"}
	}
	for _, arg := range args {
		switch section := strings.ToLower(arg); section {
		case "all", "everything", "default":
			for _, name := range infoSections {
				selected[name] = true
			}
		default:
			selected[section] = true
		}
	}

	var parts []string
	for _, name := range infoSections {
		if !selected[name] {
			continue
		}
		var lines []string
		switch name {
		case "server":
			lines = s.infoServer()
		case "clients":
			lines = []string{"connected_clients:" + strconv.Itoa(s.ClientCount())}
		case "stats":
			lines = s.infoStats()
		case "commandstats":
			lines = s.infoCommandStats()
		case "replication":
			lines = s.repl.Info()
		}
		title := strings.ToUpper(name[:1]) + name[1:]
		parts = append(parts, "# "+title+"\r\n"+strings.Join(lines, "\r\n"))
	}
	return strings.Join(parts, "\r\n\r\n")
}

func (s *Server) infoServer() []string {
	uptime := s.stats.Uptime()
	return []string{
		"redis_version:" + redisVersion,
		"rkv_version:" + common.Version,
		"redis_mode:standalone",
		"os:" + runtime.GOOS + " " + runtime.GOARCH,
		"go_version:" + runtime.Version(),
		"process_id:" + strconv.Itoa(os.Getpid()),
		"tcp_port:" + strconv.Itoa(s.config.Port),
		"uptime_in_seconds:" + strconv.FormatInt(int64(uptime/time.Second), 10),
		"uptime_in_days:" + strconv.FormatInt(int64(uptime/(24*time.Hour)), 10),
	}
}

func (s *Server) infoStats() []string {
	return []string{
		"total_connections_received:" + strconv.FormatUint(s.stats.TotalConnections(), 10),
		"total_commands_processed:" + strconv.FormatUint(s.stats.TotalCommands(), 10),
		"total_error_replies:" + strconv.FormatUint(s.stats.TotalErrors(), 10),
	}
}

func (s *Server) infoCommandStats() []string {
	stats := s.stats.CommandStats()
	lines := make([]string, 0, len(stats))
	for _, c := range stats {
		lines = append(lines, fmt.Sprintf("cmdstat_%s:calls=%d,usec=%d,usec_per_call=%.2f", c.Name, c.Calls, c.Usec, c.UsecPerCall()))
	}
	return lines
}
