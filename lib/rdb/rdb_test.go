package rdb

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptySnapshot is the snapshot a fresh redis 7.2 instance sends on full resync
const emptySnapshot = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

func TestDecodeEmptySnapshot(t *testing.T) {
	data, err := hex.DecodeString(emptySnapshot)
	require.NoError(t, err)

	records, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodeKeys(t *testing.T) {
	var b []byte
	b = append(b, "REDIS0011"...)
	b = append(b, opAux, 0x09)
	b = append(b, "redis-ver"...)
	b = append(b, 0x05)
	b = append(b, "7.2.0"...)
	b = append(b, opSelectDB, 0x00, opResizeDB, 0x04, 0x02)

	// plain key
	b = append(b, typeString, 0x03)
	b = append(b, "foo"...)
	b = append(b, 0x03)
	b = append(b, "bar"...)

	// millisecond expiry 1956528000000 (2032-01-01), little endian
	b = append(b, opExpireMs, 0x00, 0x0c, 0x28, 0x8a, 0xc7, 0x01, 0x00, 0x00)
	b = append(b, typeString, 0x05)
	b = append(b, "later"...)
	b = append(b, 0x01, 'x')

	// second expiry 1700000000, little endian
	b = append(b, opExpireSec, 0x00, 0xf1, 0x53, 0x65)
	b = append(b, typeString, 0x03)
	b = append(b, "old"...)
	b = append(b, 0x01, 'y')

	// int encoded value and a 14 bit length key
	long := strings.Repeat("k", 100)
	b = append(b, typeString, 0x40, 100)
	b = append(b, long...)
	b = append(b, 0xC0, 0xFE)

	b = append(b, opEOF)
	b = append(b, make([]byte, 8)...)

	records, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, store.Record{Key: "foo", Value: "bar"}, records[0])
	assert.Equal(t, "later", records[1].Key)
	assert.Equal(t, int64(1956528000000), records[1].ExpiresAt.UnixMilli())
	assert.Equal(t, "old", records[2].Key)
	assert.Equal(t, int64(1700000000), records[2].ExpiresAt.Unix())
	assert.Equal(t, long, records[3].Key)
	assert.Equal(t, "-2", records[3].Value)
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string][]byte{
		"short":        []byte("REDIS"),
		"magic":        []byte("RADIS0011\xff"),
		"version":      []byte("REDIS00x1\xff"),
		"truncated":    append([]byte("REDIS0011\x00\x05ab"), 0),
		"missing eof":  []byte("REDIS0011\x00\x01a\x01b"),
		"value type":   []byte("REDIS0011\x04\x01a\x01b\xff"),
		"compressed":   []byte("REDIS0011\x00\x01a\xc3\x01\x01a\xff"),
		"bad length":   []byte("REDIS0011\x00\x82\x01b\xff"),
		"huge string":  []byte("REDIS0011\x00\x81\xff\xff\xff\xff\xff\xff\xff\xffa\xff"),
		"expiry short": []byte("REDIS0011\xfc\x00\x01"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			var formatErr *FormatError
			assert.True(t, errors.As(err, &formatErr), "expected FormatError, got %v", err)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	expiresAt := time.UnixMilli(time.Now().Add(time.Hour).UnixMilli())
	records := []store.Record{
		{Key: "a", Value: "1"},
		{Key: "b", Value: strings.Repeat("v", 20000), ExpiresAt: expiresAt},
		{Key: "", Value: ""},
	}

	data := Encode(records)
	assert.True(t, strings.HasPrefix(string(data), "REDIS0011"))

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, records[0], decoded[0])
	assert.Equal(t, records[1].Value, decoded[1].Value)
	assert.True(t, expiresAt.Equal(decoded[1].ExpiresAt))
	assert.Equal(t, records[2], decoded[2])
}

func TestLoadFile(t *testing.T) {
	records, err := LoadFile(filepath.Join(t.TempDir(), "missing.rdb"))
	require.NoError(t, err)
	assert.Nil(t, records)

	path := filepath.Join(t.TempDir(), "dump.rdb")
	require.NoError(t, os.WriteFile(path, Encode([]store.Record{{Key: "k", Value: "v"}}), 0o644))
	records, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []store.Record{{Key: "k", Value: "v"}}, records)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestStoreSnapshotter(t *testing.T) {
	s := lstore.NewLocalStore()
	require.NoError(t, s.Set("k", "v", 0))
	_, err := s.XAdd("stream", "1-1", nil)
	require.NoError(t, err)

	blob, err := NewSnapshotter(s).Snapshot()
	require.NoError(t, err)

	records, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, []store.Record{{Key: "k", Value: "v"}}, records)
}
