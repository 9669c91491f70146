package server

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/rKV/lib/store"
)

// CommandKind is the closed set of commands the server understands
type CommandKind uint8

const (
	CmdPing CommandKind = iota
	CmdEcho
	CmdSet
	CmdGet
	CmdIncr
	CmdConfig
	CmdKeys
	CmdType
	CmdInfo
	CmdReplconf
	CmdPsync
	CmdXAdd
	CmdXRange
	CmdXRead
	CmdMulti
	CmdExec
	CmdDiscard

	numCommands
)

// commandSpec describes the static properties of a command. Arity counts the
// arguments after the command name, maxArgs < 0 means unbounded.
type commandSpec struct {
	name    string
	minArgs int
	maxArgs int
	write   bool
	// argument pairs after minArgs (XADD field/value lists)
	pairs bool
}

var commandSpecs = [numCommands]commandSpec{
	CmdPing:     {name: "PING", minArgs: 0, maxArgs: 1},
	CmdEcho:     {name: "ECHO", minArgs: 1, maxArgs: 1},
	CmdSet:      {name: "SET", minArgs: 2, maxArgs: 4, write: true},
	CmdGet:      {name: "GET", minArgs: 1, maxArgs: 1},
	CmdIncr:     {name: "INCR", minArgs: 1, maxArgs: 1, write: true},
	CmdConfig:   {name: "CONFIG", minArgs: 2, maxArgs: -1},
	CmdKeys:     {name: "KEYS", minArgs: 1, maxArgs: 1},
	CmdType:     {name: "TYPE", minArgs: 1, maxArgs: 1},
	CmdInfo:     {name: "INFO", minArgs: 0, maxArgs: -1},
	CmdReplconf: {name: "REPLCONF", minArgs: 1, maxArgs: -1},
	CmdPsync:    {name: "PSYNC", minArgs: 2, maxArgs: 2},
	CmdXAdd:     {name: "XADD", minArgs: 4, maxArgs: -1, write: true, pairs: true},
	CmdXRange:   {name: "XRANGE", minArgs: 3, maxArgs: 5},
	CmdXRead:    {name: "XREAD", minArgs: 3, maxArgs: -1},
	CmdMulti:    {name: "MULTI", minArgs: 0, maxArgs: 0},
	CmdExec:     {name: "EXEC", minArgs: 0, maxArgs: 0},
	CmdDiscard:  {name: "DISCARD", minArgs: 0, maxArgs: 0},
}

// commandsByName maps the case-sensitive wire name to its kind
var commandsByName = func() map[string]CommandKind {
	m := make(map[string]CommandKind, numCommands)
	for kind := CommandKind(0); kind < numCommands; kind++ {
		m[commandSpecs[kind].name] = kind
	}
	return m
}()

// String returns the wire name of the command
func (k CommandKind) String() string {
	if k >= numCommands {
		return fmt.Sprintf("Unknown(%d)", k)
	}
	return commandSpecs[k].name
}

// IsWrite reports whether the command mutates the key space. Successful
// writes are propagated to followers and rejected on followers.
func (k CommandKind) IsWrite() bool {
	return k < numCommands && commandSpecs[k].write
}

// controlsTransaction reports whether the command is executed immediately
// even while a transaction is queuing
func (k CommandKind) controlsTransaction() bool {
	return k == CmdMulti || k == CmdExec || k == CmdDiscard
}

// Command is a parsed request
type Command struct {
	Kind CommandKind
	Args []string // arguments without the command name
	Argv []string // the full request, used for queuing and propagation
}

// ParseCommand resolves the command name of argv and checks its arity.
// Names are matched case-sensitively.
func ParseCommand(argv []string) (Command, error) {
	if len(argv) == 0 {
		return Command{}, store.ErrSyntax
	}

	kind, ok := commandsByName[argv[0]]
	if !ok {
		return Command{}, unknownCommandError(argv)
	}

	spec := commandSpecs[kind]
	n := len(argv) - 1
	if n < spec.minArgs || (spec.maxArgs >= 0 && n > spec.maxArgs) || (spec.pairs && (n-spec.minArgs)%2 != 0) {
		return Command{}, store.Errorf(store.RetCWrongArity, "ERR wrong number of arguments for '%s' command", strings.ToLower(spec.name))
	}

	return Command{Kind: kind, Args: argv[1:], Argv: argv}, nil
}

func unknownCommandError(argv []string) error {
	var b strings.Builder
	for _, arg := range argv[1:] {
		fmt.Fprintf(&b, "'%s' ", arg)
	}
	return store.Errorf(store.RetCUnknownCommand, "ERR unknown command '%s', with args beginning with: %s", argv[0], b.String())
}
