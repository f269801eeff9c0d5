package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessageDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m, ok := NormalizeMessage(Raw{"room_id": "r1", "sender_id": "u1"}, now)
	require.True(t, ok)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "", m.Text)
	assert.Equal(t, StatusSent, m.Status)
	assert.Equal(t, TypeText, m.Type)
	assert.Equal(t, now, m.CreatedAt)
	assert.False(t, m.Deleted)

	_, ok = NormalizeMessage(nil, now)
	assert.False(t, ok)
}

func TestNormalizeMessageFields(t *testing.T) {
	raw := Raw{
		"_id":             "m1",
		"id":              "ignored",
		"tempId":          "tmp-1",
		"room_id":         "r1",
		"text":            "hi",
		"message_type":    "image",
		"attachment_url":  "/files/a.png",
		"attachment_name": "a.png",
		"delivery_status": "read",
		"created_at":      "2024-05-01T10:00:00Z",
	}
	m, ok := NormalizeMessage(raw, time.Now())
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "tmp-1", m.TempID)
	assert.Equal(t, StatusRead, m.Status)
	require.NotNil(t, m.Attachment)
	assert.Equal(t, "image", m.Attachment.Type)
	assert.Equal(t, 2024, m.CreatedAt.Year())

	raw["deleted_at"] = "2024-05-02T00:00:00Z"
	m, _ = NormalizeMessage(raw, time.Now())
	assert.True(t, m.Deleted)
	assert.Equal(t, DeletedText, m.Text)
	assert.Nil(t, m.Attachment)
}

func TestNormalizeRoomAndUser(t *testing.T) {
	var list []any
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"r1","other":{"_id":"u2","name":"Bina"},"last_msg":"yo","last_msg_time":"2024-05-01T10:00:00Z","unread":2,"muted":true},
		{"other":{"_id":"u3"}},
		"junk"
	]`), &list))
	rooms := NormalizeRooms(list)
	require.Len(t, rooms, 1)
	r := rooms[0]
	assert.Equal(t, "u2", r.Other.ID)
	assert.Equal(t, 2, r.Unread)
	assert.True(t, r.Muted)
	assert.True(t, r.Matches("bin"))
	assert.True(t, r.Matches("yo"))
	assert.False(t, r.Matches("zed"))

	users := NormalizeUsers([]any{Raw{"_id": "u9", "Name": "Chetan", "Email": "c@x.io"}, Raw{"Name": "no id"}})
	require.Len(t, users, 1)
	assert.Equal(t, "Chetan", users[0].Name)
	assert.True(t, users[0].Matches("x.io"))
}

func TestOnlineStatusPresence(t *testing.T) {
	now := time.Unix(100, 0)
	p := OnlineStatus{UserID: "u1", IsOnline: false, LastSeen: float64(5000)}.Presence(now)
	assert.Equal(t, int64(5000), p.LastSeen.UnixMilli())

	p = OnlineStatus{UserID: "u1", IsOnline: false}.Presence(now)
	assert.Equal(t, now, p.LastSeen)

	p = OnlineStatus{UserID: "u1", IsOnline: true, LastSeen: "2024-01-01T00:00:00Z"}.Presence(now)
	assert.True(t, p.LastSeen.IsZero())
}

func TestUploadMessageType(t *testing.T) {
	assert.Equal(t, TypeImage, Upload{Type: "image/png"}.MessageType())
	assert.Equal(t, TypeFile, Upload{Type: "application/pdf"}.MessageType())
}
