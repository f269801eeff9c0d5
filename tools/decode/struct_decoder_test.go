package decode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
	Count    int    `json:"count"`
}

func TestJSONWeakTyping(t *testing.T) {
	p, err := JSON[typingPayload](json.RawMessage(`{"roomId":"r1","userId":42,"isTyping":"true","count":3.0}`))
	require.NoError(t, err)
	assert.Equal(t, "r1", p.RoomID)
	assert.Equal(t, "42", p.UserID)
	assert.True(t, p.IsTyping)
	assert.Equal(t, 3, p.Count)
}

func TestMapCaseInsensitiveFallback(t *testing.T) {
	type user struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	u, err := Map[user](map[string]any{"Name": "Asha", "Email": "a@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "Asha", u.Name)
	assert.Equal(t, "a@x.io", u.Email)

	_, err = Map[user](nil)
	assert.Error(t, err)
}

func TestScalar(t *testing.T) {
	id, err := Scalar[string](json.RawMessage(`"room-9"`))
	require.NoError(t, err)
	assert.Equal(t, "room-9", id)

	_, err = Scalar[bool](json.RawMessage(`"nope"`))
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	m := map[string]any{"_id": "", "id": 12.0}
	assert.Equal(t, "12", String(m, "_id", "id"))
	assert.Equal(t, "", String(m, "missing"))
}

func TestTime(t *testing.T) {
	ts, ok := Time("2024-05-01T10:00:00.250Z")
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, time.Duration(ts.Nanosecond()))

	ts, ok = Time(float64(1714557600000))
	require.True(t, ok)
	assert.Equal(t, int64(1714557600000), ts.UnixMilli())

	_, ok = Time("")
	assert.False(t, ok)
	_, ok = Time(nil)
	assert.False(t, ok)
}
