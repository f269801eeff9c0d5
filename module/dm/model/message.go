package model

import (
	"time"

	"DMProject/tools/decode"
	"DMProject/tools/ids"
)

const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"

	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"

	// DeletedText replaces the body of a deleted message.
	DeletedText = "This message was deleted"
)

// Raw is an untyped JSON object as returned by the backend.
type Raw = map[string]any

type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type Message struct {
	ID           string      `json:"id"`
	TempID       string      `json:"tempId,omitempty"`
	RoomID       string      `json:"roomId"`
	SenderID     string      `json:"senderId"`
	SenderName   string      `json:"senderName,omitempty"`
	SenderAvatar string      `json:"senderAvatar,omitempty"`
	Text         string      `json:"text"`
	Type         string      `json:"type"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	ReplyTo      string      `json:"replyTo,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	Status       string      `json:"status"`
	Deleted      bool        `json:"deleted"`
	// Pending is set on the optimistic copy until the backend confirms it.
	Pending bool `json:"pending"`
}

// MarkDeleted swaps the body for the placeholder.
func (m *Message) MarkDeleted() {
	m.Text = DeletedText
	m.Attachment = nil
	m.Deleted = true
}

// NormalizeMessage maps a backend message object into a Message, defaulting
// absent fields. ok is false only for a nil object.
func NormalizeMessage(raw Raw, now time.Time) (Message, bool) {
	if raw == nil {
		return Message{}, false
	}
	m := Message{
		ID:           decode.String(raw, "_id", "id"),
		TempID:       decode.String(raw, "tempId", "temp_id"),
		RoomID:       decode.String(raw, "room_id", "roomId"),
		SenderID:     decode.String(raw, "sender_id", "senderId"),
		SenderName:   decode.String(raw, "sender_name", "senderName"),
		SenderAvatar: decode.String(raw, "sender_avatar", "senderAvatar"),
		Text:         decode.String(raw, "text"),
		Type:         decode.String(raw, "message_type", "messageType", "type"),
		ReplyTo:      decode.String(raw, "reply_to", "replyTo"),
		Status:       decode.String(raw, "delivery_status", "status"),
	}
	if m.ID == "" {
		m.ID = ids.GenerateString()
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	if ts, ok := decode.Time(raw["created_at"]); ok {
		m.CreatedAt = ts
	} else if ts, ok := decode.Time(raw["createdAt"]); ok {
		m.CreatedAt = ts
	} else {
		m.CreatedAt = now
	}
	if url := decode.String(raw, "attachment_url"); url != "" {
		m.Attachment = &Attachment{
			URL:  url,
			Name: decode.String(raw, "attachment_name"),
			Type: decode.String(raw, "attachment_type"),
		}
		if m.Attachment.Type == "" {
			m.Attachment.Type = m.Type
		}
	}
	if v, ok := raw["deleted_at"]; ok && v != nil {
		m.MarkDeleted()
	} else if v, ok := raw["deleted"].(bool); ok && v {
		m.MarkDeleted()
	}
	return m, true
}

// NormalizeMessages normalizes a list, skipping entries that are not objects.
func NormalizeMessages(list []any, now time.Time) []Message {
	out := make([]Message, 0, len(list))
	for _, item := range list {
		raw, _ := item.(Raw)
		if m, ok := NormalizeMessage(raw, now); ok {
			out = append(out, m)
		}
	}
	return out
}
