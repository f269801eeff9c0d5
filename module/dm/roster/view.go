package roster

import (
	"encoding/json"

	"DMProject/module/dm/model"
)

// MarshalJSON is the form published to view subscribers.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	v := struct {
		Version   uint64           `json:"version"`
		Loaded    bool             `json:"loaded"`
		Rooms     []model.Room     `json:"rooms"`
		Directory []model.User     `json:"directory,omitempty"`
		Presence  []model.Presence `json:"presence"`
		Error     string           `json:"error,omitempty"`
	}{
		Version:   s.Version,
		Loaded:    s.Loaded,
		Rooms:     s.Rooms,
		Directory: s.Directory,
		Presence:  s.Presence,
	}
	if s.LastError != nil {
		v.Error = s.LastError.Error()
	}
	return json.Marshal(v)
}
