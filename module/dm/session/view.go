package session

import (
	"encoding/json"

	"DMProject/module/dm/model"
)

// MarshalJSON is the form published to view subscribers.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	v := struct {
		Version      uint64          `json:"version"`
		State        string          `json:"state"`
		RoomID       string          `json:"roomId"`
		Messages     []model.Message `json:"messages"`
		RemoteTyping bool            `json:"remoteTyping"`
		Peer         model.Presence  `json:"peer"`
		Error        string          `json:"error,omitempty"`
	}{
		Version:      s.Version,
		State:        s.State.String(),
		RoomID:       s.RoomID,
		Messages:     s.Messages,
		RemoteTyping: s.RemoteTyping,
		Peer:         s.Peer,
	}
	if s.LastError != nil {
		v.Error = s.LastError.Error()
	}
	return json.Marshal(v)
}
