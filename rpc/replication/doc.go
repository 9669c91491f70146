// Package replication implements asynchronous leader/follower replication.
//
// A process has a fixed role for its lifetime. The leader keeps a Manager
// with the set of attached followers. A follower connects with
// a handshake (PING, REPLCONF listening-port, REPLCONF capa psync2,
// PSYNC ? -1), receives "+FULLRESYNC <replid> <offset>" followed by a
// snapshot blob and then an endless stream of write commands encoded as
// RESP arrays.
//
// Key Components:
//
//   - Manager: Replication state of a process. On the leader, Execute runs a
//     write and propagates it while holding the same lock Attach uses for the
//     full resync, so no write is lost or duplicated for a new follower.
//
//   - Follower: The follower side link. It dials the leader through the rpc
//     client, performs the handshake, loads the snapshot through an Applier
//     and applies the stream. REPLCONF GETACK is answered with the number of
//     stream bytes processed before the request.
//
// Offsets are counted in bytes of the encoded commands. On the leader the
// offset grows with every propagated command, on the follower it starts at
// the offset announced with FULLRESYNC.
package replication
