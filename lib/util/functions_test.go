package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateReplicationID(t *testing.T) {
	a := GenerateReplicationID()
	b := GenerateReplicationID()

	assert.Len(t, a, ReplicationIDLength)
	assert.True(t, IsReplicationID(a))
	assert.NotEqual(t, a, b)
}

func TestIsReplicationID(t *testing.T) {
	assert.True(t, IsReplicationID("8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"))
	assert.False(t, IsReplicationID("8371b4fb"))
	assert.False(t, IsReplicationID("zz71b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"))
}
