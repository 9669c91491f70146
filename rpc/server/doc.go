// Package server implements the command dispatch boundary of rKV.
// Every accepted connection runs in its own goroutine (see rpc/transport/base)
// and is served by handleConnection: decode a request, parse it into a
// Command, run it against the store and the replication manager, encode the
// reply.
//
// Key Components:
//
//   - Command / ParseCommand: The closed set of supported commands. Names are
//     matched case-sensitively, arity is checked once at parse time, so
//     handlers can index their arguments directly.
//
//   - Server: Owns the store, the replication manager and the statistics of
//     one process. Writes (SET, INCR, XADD) run inside
//     replication.Manager.Execute so that they are propagated to followers in
//     execution order. On a follower, writes from clients are rejected and
//     Server acts as replication.Applier for the follower link.
//
//   - session: Per-connection state: the MULTI/EXEC queue, the listening port
//     announced during a follower handshake and a writer that serializes
//     replies and propagated commands on the same socket.
//
// Error handling:
//
//	Errors of type *store.Error are sent verbatim as error replies, any other
//	error is prefixed with "ERR". Malformed frames are answered with
//	"ERR Protocol error: ..." and the connection is closed. No request error
//	ever terminates the process.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.Port = 6380
//	config.ReplicaOf = "localhost 6379"
//
//	s, err := server.NewServer(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := s.Serve(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
