package imsession

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchTable_ExactMatch(t *testing.T) {
	table := newDispatchTable()

	var got []string
	table.registerCommand("MSG", CommandHandlerFunc(func(_ *Session, f Frame) error {
		got = append(got, string(f.Params))
		return nil
	}))

	handled, err := table.dispatch(nil, Frame{Command: "MSG", Params: []byte("hi")})
	require.NoError(t, err)
	assert.True(t, handled)

	// no prefix or case-insensitive matching
	for _, cmd := range []string{"MS", "MSGX", "msg", ""} {
		handled, err = table.dispatch(nil, Frame{Command: cmd})
		require.NoError(t, err)
		assert.False(t, handled, cmd)
	}

	assert.Equal(t, []string{"hi"}, got)
}

func TestDispatchTable_LastRegistrationWins(t *testing.T) {
	table := newDispatchTable()

	calls := ""
	table.registerCommand("PING", CommandHandlerFunc(func(*Session, Frame) error {
		calls += "first"
		return nil
	}))
	table.registerCommand("PING", CommandHandlerFunc(func(*Session, Frame) error {
		calls += "second"
		return nil
	}))

	_, _ = table.dispatch(nil, Frame{Command: "PING"})
	assert.Equal(t, "second", calls)
}

func TestDispatchTable_HandlerError(t *testing.T) {
	table := newDispatchTable()
	boom := errors.New("boom")
	table.registerCommand("BAD", CommandHandlerFunc(func(*Session, Frame) error {
		return boom
	}))

	handled, err := table.dispatch(nil, Frame{Command: "BAD"})
	assert.True(t, handled)
	assert.ErrorIs(t, err, boom)
}

func TestDispatchTable_RegisterFromHandler(t *testing.T) {
	table := newDispatchTable()

	table.registerCommand("LOGIN", CommandHandlerFunc(func(*Session, Frame) error {
		table.unregisterCommand("LOGIN")
		table.registerCommand("MSG", CommandHandlerFunc(func(*Session, Frame) error { return nil }))
		return nil
	}))

	handled, err := table.dispatch(nil, Frame{Command: "LOGIN"})
	require.NoError(t, err)
	assert.True(t, handled)

	handled, _ = table.dispatch(nil, Frame{Command: "LOGIN"})
	assert.False(t, handled)
	handled, _ = table.dispatch(nil, Frame{Command: "MSG"})
	assert.True(t, handled)
}

func TestDispatchTable_Payloads(t *testing.T) {
	table := newDispatchTable()

	_, ok := table.payload("image")
	assert.False(t, ok)

	table.registerPayload("image", PayloadHandlerFunc(func(*Session, string, []byte) error { return nil }))
	_, ok = table.payload("image")
	assert.True(t, ok)

	assert.True(t, table.unregisterPayload("image"))
	assert.False(t, table.unregisterPayload("image"))

	// a nil handler removes the binding
	table.registerCommand("X", CommandHandlerFunc(func(*Session, Frame) error { return nil }))
	table.registerCommand("X", nil)
	_, ok = table.command("X")
	assert.False(t, ok)
}
