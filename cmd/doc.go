// Package cmd implements the command-line interface of rKV. It provides
// a hierarchical command structure for running the server and talking to it.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a leader or follower server
//   - cli: Client commands (ping, get, set, xadd, info, raw, perf, ...)
//   - util: Shared utilities for flag and environment handling (internal use)
//
// See rkv --help for a list of all commands.
package cmd
