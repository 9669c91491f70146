// Package client implements a minimal RESP client for rKV servers.
//
// Key Components:
//
//   - Client: A single connection with a resumable decoder. Do performs one
//     request/reply exchange, Send/Receive/ReadBlob give the follower link
//     direct control over the replication stream.
//
//   - Typed helpers (Set, Get, Incr, XAdd, Keys, Info) used by the command
//     line client and the perf benchmark.
//
// Usage Example:
//
//	c, err := client.Dial(ctx, common.ClientConfig{Endpoint: "localhost:6379", TimeoutSecond: 5})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	_ = c.Set("mykey", "myvalue", 0)
//	value, exists, _ := c.Get("mykey")
package client
