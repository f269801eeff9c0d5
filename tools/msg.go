package tools

import (
	"encoding/json"
	"fmt"
)

// Frame is one named event on the socket: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals payload as the data of a frame named event.
func EncodeFrame(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("EncodeFrame: event is empty")
	}
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("EncodeFrame: marshal %s payload: %w", event, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}

// DecodeFrame 从 []byte 解析回 Frame
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("DecodeFrame: data is empty")
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Event == "" {
		return nil, fmt.Errorf("DecodeFrame: missing event name")
	}
	return &f, nil
}
