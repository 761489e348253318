package messages

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	ClientTypeText    = "text"
	ClientTypeAudio   = "audio"
	ClientTypeControl = "control"
)

// Control actions
const (
	ActionPing    = "ping"
	ActionEndTurn = "end_turn"
	ActionEndCall = "end_call"
)

// ClientMessage represents a message from the voice client
type ClientMessage struct {
	Type    string          `json:"type"` // "text", "audio", "control"
	Payload json.RawMessage `json:"payload"`
}

// TextPayload carries a typed customer utterance
type TextPayload struct {
	Text string `json:"text"`
}

// AudioPayload contains audio data from client
type AudioPayload struct {
	Data      string `json:"data"`               // Base64-encoded audio
	MimeType  string `json:"mimeType,omitempty"` // defaults to 16kHz PCM
	EndOfTurn bool   `json:"endOfTurn,omitempty"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end_turn", "end_call"
}

// ParseClientMessage decodes a text frame
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("invalid message: missing type")
	}
	return &msg, nil
}

// DecodePayload unmarshals the payload into v
func (m *ClientMessage) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("missing %s payload", m.Type)
	}
	return sonic.Unmarshal(m.Payload, v)
}
