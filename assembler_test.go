package imsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadAssembler_Splits(t *testing.T) {
	payload := []byte("0123456789abcdef")
	L := len(payload)

	splits := map[string][]int{
		"bytewise": nil,
		"halves":   {L / 2, L - L/2},
		"last_one": {L - 1, 1},
		"first":    {1, L - 1},
		"whole":    {L},
	}
	for i := 0; i < L; i++ {
		splits["bytewise"] = append(splits["bytewise"], 1)
	}

	for name, sizes := range splits {
		t.Run(name, func(t *testing.T) {
			var a payloadAssembler
			require.NoError(t, a.begin("text", L, nil))

			off, completions := 0, 0
			for _, n := range sizes {
				used, complete := a.feed(payload[off : off+n])
				assert.Equal(t, n, used)
				off += n
				if complete {
					completions++
				}
			}
			assert.Equal(t, 1, completions)

			ct, got, _ := a.finish()
			assert.Equal(t, "text", ct)
			assert.Equal(t, payload, got)
			assert.False(t, a.inProgress())
		})
	}
}

func TestPayloadAssembler_NeverExceedsDeclared(t *testing.T) {
	var a payloadAssembler
	require.NoError(t, a.begin("text", 3, nil))

	used, complete := a.feed([]byte("abcdef"))
	assert.Equal(t, 3, used)
	assert.True(t, complete)
	assert.Equal(t, 0, a.remaining())
}

func TestPayloadAssembler_OneAtATime(t *testing.T) {
	var a payloadAssembler
	require.NoError(t, a.begin("text", 3, nil))
	assert.ErrorIs(t, a.begin("image", 1, nil), ErrPayloadInProgress)

	a.finish()
	assert.NoError(t, a.begin("image", 1, nil))
}

func TestPayloadAssembler_InvalidLength(t *testing.T) {
	var a payloadAssembler
	assert.ErrorIs(t, a.begin("text", -1, nil), ErrInvalidPayloadLength)
	assert.False(t, a.inProgress())
}

func TestPayloadAssembler_ZeroLength(t *testing.T) {
	var a payloadAssembler
	require.NoError(t, a.begin("empty", 0, nil))

	assert.True(t, a.inProgress())
	assert.Equal(t, 0, a.remaining())

	_, got, _ := a.finish()
	assert.Empty(t, got)
}
