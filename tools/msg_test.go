package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodec(t *testing.T) {
	raw, err := EncodeFrame("typing", map[string]any{"roomId": "r1", "isTyping": true})
	require.NoError(t, err)

	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, "typing", f.Event)
	assert.JSONEq(t, `{"roomId":"r1","isTyping":true}`, string(f.Data))

	raw, err = EncodeFrame("leaveRoom", nil)
	require.NoError(t, err)
	f, err = DecodeFrame(raw)
	require.NoError(t, err)
	assert.Empty(t, f.Data)

	_, err = EncodeFrame("", 1)
	assert.Error(t, err)
	_, err = DecodeFrame(nil)
	assert.Error(t, err)
	_, err = DecodeFrame([]byte(`{"data":1}`))
	assert.Error(t, err)
}
