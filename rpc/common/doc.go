// Package common provides the configuration, logging and statistics shared
// by the rKV server, the replication link and the command line client.
//
// Key Components:
//
//   - ServerConfig: Listener, snapshot, replication and connection settings of
//     a server process. ReplicaOf selects the follower role.
//
//   - ClientConfig: Endpoint and timeouts used by the command line client.
//
//   - Logger: Custom logging implementation that plugs into dragonboats logger
//     package, so every package can use logger.GetLogger("<name>") and get
//     the same "LEVEL | name | message" format.
//
//   - Stats: Per server counters and gauges (prometheus export) and per
//     command latency timers (INFO stats and commandstats).
package common
