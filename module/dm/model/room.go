package model

import (
	"strings"
	"time"

	"DMProject/tools/decode"
)

type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Room struct {
	ID          string      `json:"id"`
	Other       Participant `json:"other"`
	LastMsg     string      `json:"lastMsg"`
	LastMsgTime time.Time   `json:"lastMsgTime"`
	Unread      int         `json:"unread"`
	Archived    bool        `json:"archived"`
	Muted       bool        `json:"muted"`
}

// Matches reports whether a lower-cased query hits the participant name or the preview.
func (r Room) Matches(q string) bool {
	return strings.Contains(strings.ToLower(r.Other.Name), q) ||
		strings.Contains(strings.ToLower(r.LastMsg), q)
}

// User is a society directory entry.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

func (u User) Matches(q string) bool {
	return strings.Contains(strings.ToLower(u.Name), q) ||
		strings.Contains(strings.ToLower(u.Email), q)
}

type Presence struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

func NormalizeRoom(raw Raw) (Room, bool) {
	if raw == nil {
		return Room{}, false
	}
	r := Room{
		ID:      decode.String(raw, "id", "_id", "roomId"),
		LastMsg: decode.String(raw, "last_msg", "lastMsg"),
	}
	if r.ID == "" {
		return Room{}, false
	}
	if other, ok := raw["other"].(Raw); ok {
		r.Other = Participant{
			ID:     decode.String(other, "_id", "id"),
			Name:   decode.String(other, "name", "Name"),
			Avatar: decode.String(other, "avatar"),
		}
	}
	if ts, ok := decode.Time(raw["last_msg_time"]); ok {
		r.LastMsgTime = ts
	}
	if n, ok := raw["unread"].(float64); ok {
		r.Unread = int(n)
	}
	r.Archived, _ = raw["archived"].(bool)
	r.Muted, _ = raw["muted"].(bool)
	return r, true
}

func NormalizeRooms(list []any) []Room {
	out := make([]Room, 0, len(list))
	for _, item := range list {
		raw, _ := item.(Raw)
		if r, ok := NormalizeRoom(raw); ok {
			out = append(out, r)
		}
	}
	return out
}

func NormalizeUser(raw Raw) (User, bool) {
	if raw == nil {
		return User{}, false
	}
	u := User{
		ID:     decode.String(raw, "_id", "id"),
		Name:   decode.String(raw, "Name", "name"),
		Email:  decode.String(raw, "Email", "email"),
		Avatar: decode.String(raw, "avatar"),
	}
	return u, u.ID != ""
}

func NormalizeUsers(list []any) []User {
	out := make([]User, 0, len(list))
	for _, item := range list {
		raw, _ := item.(Raw)
		if u, ok := NormalizeUser(raw); ok {
			out = append(out, u)
		}
	}
	return out
}
