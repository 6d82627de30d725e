package messages

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// ClientMessage represents a message from a websocket subscriber
type ClientMessage struct {
	Type    string          `json:"type"` // "control"
	Payload json.RawMessage `json:"payload"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping"
}

// Control actions
const (
	ActionPing = "ping"
)

// DecodeClientMessage parses a subscriber frame and, for control messages,
// its payload.
func DecodeClientMessage(data []byte) (*ClientMessage, *ControlPayload, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, nil, err
	}
	if msg.Type != TypeControl {
		return &msg, nil, nil
	}
	var ctrl ControlPayload
	if len(msg.Payload) > 0 {
		if err := sonic.Unmarshal(msg.Payload, &ctrl); err != nil {
			return &msg, nil, err
		}
	}
	return &msg, &ctrl, nil
}
