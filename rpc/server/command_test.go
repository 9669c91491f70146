package server

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTableIsComplete(t *testing.T) {
	for kind := CommandKind(0); kind < numCommands; kind++ {
		name := kind.String()
		require.NotEmpty(t, name, "command %d has no name", kind)
		assert.Equal(t, kind, commandsByName[name])
	}
	assert.Len(t, commandsByName, int(numCommands))
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]string{"SET", "k", "v", "PX", "100"})
	require.NoError(t, err)
	assert.Equal(t, CmdSet, cmd.Kind)
	assert.Equal(t, []string{"k", "v", "PX", "100"}, cmd.Args)
	assert.True(t, cmd.Kind.IsWrite())

	cmd, err = ParseCommand([]string{"XREAD", "STREAMS", "s", "0-0"})
	require.NoError(t, err)
	assert.Equal(t, CmdXRead, cmd.Kind)
	assert.False(t, cmd.Kind.IsWrite())
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		code store.RetCode
		msg  string
	}{
		{"Unknown", []string{"FOO", "a", "b"}, store.RetCUnknownCommand, "ERR unknown command 'FOO', with args beginning with: 'a' 'b' "},
		{"CaseSensitive", []string{"get", "k"}, store.RetCUnknownCommand, "ERR unknown command 'get', with args beginning with: 'k' "},
		{"TooFew", []string{"GET"}, store.RetCWrongArity, "ERR wrong number of arguments for 'get' command"},
		{"TooMany", []string{"ECHO", "a", "b"}, store.RetCWrongArity, "ERR wrong number of arguments for 'echo' command"},
		{"XAddOddFields", []string{"XADD", "s", "*", "a", "1", "b"}, store.RetCWrongArity, "ERR wrong number of arguments for 'xadd' command"},
		{"MultiArgs", []string{"MULTI", "now"}, store.RetCWrongArity, "ERR wrong number of arguments for 'multi' command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(tt.argv)
			var storeErr *store.Error
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, tt.code, storeErr.Code)
			assert.Equal(t, tt.msg, storeErr.Msg)
		})
	}
}

func TestParseSetExpiry(t *testing.T) {
	for _, opt := range []string{"PX", "px", "Px", "pX"} {
		ttl, err := parseSetExpiry([]string{opt, "100"})
		require.NoError(t, err, opt)
		assert.Equal(t, int64(100), ttl.Milliseconds())
	}

	ttl, err := parseSetExpiry([]string{"EX", "2"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), ttl.Seconds())

	_, err = parseSetExpiry([]string{"PX"})
	assert.ErrorIs(t, err, store.ErrSyntax)
	_, err = parseSetExpiry([]string{"NX", "1"})
	assert.ErrorIs(t, err, store.ErrSyntax)
	_, err = parseSetExpiry([]string{"PX", "soon"})
	assert.ErrorIs(t, err, store.ErrNotInteger)
	_, err = parseSetExpiry([]string{"PX", "0"})
	assert.ErrorIs(t, err, errInvalidExpire)
}
