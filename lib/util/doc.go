// Package util provides small helpers shared by the server packages:
// random seeds and replication id generation.
package util
