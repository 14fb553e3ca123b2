package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessages(t *testing.T) {
	t.Run("CompactSeparators", func(t *testing.T) {
		encoded, err := EncodeMessages([]interface{}{"a", "b", 1})

		require.NoError(t, err)
		assert.Equal(t, `["a","b",1]`, string(encoded))
	})

	t.Run("Empty", func(t *testing.T) {
		encoded, err := EncodeMessages([]interface{}{})

		require.NoError(t, err)
		assert.Equal(t, `[]`, string(encoded))
	})
}

func TestDecodeMessages(t *testing.T) {
	t.Run("Array", func(t *testing.T) {
		messages, err := DecodeMessages([]byte(`["hello","world"]`))

		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "hello", messages[0])
		assert.Equal(t, "world", messages[1])
	})

	t.Run("LeadingWhitespace", func(t *testing.T) {
		messages, err := DecodeMessages([]byte("  \n\t[\"x\"]"))

		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "x", messages[0])
	})

	t.Run("NotAnArray", func(t *testing.T) {
		_, err := DecodeMessages([]byte(`"x"`))

		var invalid *InvalidPayloadError
		require.Error(t, err)
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("BrokenJSON", func(t *testing.T) {
		_, err := DecodeMessages([]byte(`["x"`))

		var invalid *InvalidPayloadError
		require.Error(t, err)
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := DecodeMessages(nil)

		assert.Error(t, err)
	})
}

func TestDecodeAny(t *testing.T) {
	t.Run("Array", func(t *testing.T) {
		messages, err := DecodeAny([]byte(`["a","b"]`))

		require.NoError(t, err)
		assert.Len(t, messages, 2)
	})

	t.Run("BareValueWrapped", func(t *testing.T) {
		messages, err := DecodeAny([]byte(`"solo"`))

		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "solo", messages[0])
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := DecodeAny([]byte(`{"broken`))

		assert.Error(t, err)
	})
}

func TestFrames(t *testing.T) {
	t.Run("Message", func(t *testing.T) {
		frame, err := NewMessageFrame("hello")

		require.NoError(t, err)
		assert.Equal(t, `a["hello"]`, frame)
	})

	t.Run("MessagePreservesOrder", func(t *testing.T) {
		frame, err := NewMessageFrame("1", "2", "3")

		require.NoError(t, err)
		assert.Equal(t, `a["1","2","3"]`, frame)
	})

	t.Run("Close", func(t *testing.T) {
		assert.Equal(t, `c[3000,"Go away!"]`, NewCloseFrame(3000, "Go away!"))
		assert.Equal(t, `c[2010,"Another connection still open"]`, NewCloseFrame(ConnAlreadyOpen.Code, ConnAlreadyOpen.Reason))
		assert.Equal(t, `c[1002,"Connection interrupted"]`, NewCloseFrame(ConnInterrupted.Code, ConnInterrupted.Reason))
	})
}

func TestRoundTrip(t *testing.T) {
	payload := []byte(`["a","b","c"]`)

	messages, err := DecodeMessages(payload)
	require.NoError(t, err)

	encoded, err := EncodeMessages(messages)
	require.NoError(t, err)

	assert.Equal(t, string(payload), string(encoded))
}
