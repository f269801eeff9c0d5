package model

import (
	"encoding/json"
	"time"

	"DMProject/tools/decode"
)

// SendPayload is the live-path sendMessage body.
type SendPayload struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
	TempID string `json:"tempId"`
}

type Typing struct {
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId"`
	IsTyping bool      `json:"isTyping"`
	At       time.Time `json:"-"`
}

type RoomRead struct {
	RoomID string `json:"roomId"`
}

type Deletion struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

type OnlineStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen any    `json:"lastSeen"`
}

// Presence converts the event, falling back to now for an offline event without lastSeen.
func (s OnlineStatus) Presence(now time.Time) Presence {
	p := Presence{UserID: s.UserID, Online: s.IsOnline}
	if !s.IsOnline {
		if ts, ok := decode.Time(s.LastSeen); ok {
			p.LastSeen = ts
		} else {
			p.LastSeen = now
		}
	}
	return p
}

// Outgoing is the REST persistence body for a message.
type Outgoing struct {
	Text    string `json:"text"`
	Type    string `json:"message_type"`
	ReplyTo string `json:"reply_to,omitempty"`
	TempID  string `json:"temp_id,omitempty"`
}

// Upload describes a file sent with SendAttachment. Exactly one of Path or Data is used.
type Upload struct {
	Name    string
	Type    string // mime type
	Path    string
	Data    []byte
	Text    string
	ReplyTo string
}

// MessageType maps a mime type onto the backend's message_type.
func (u Upload) MessageType() string {
	if len(u.Type) >= 6 && u.Type[:6] == "image/" {
		return TypeImage
	}
	return TypeFile
}

// RawMessage decodes a newMessage payload into an object.
func RawMessage(data json.RawMessage) (Raw, error) {
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
