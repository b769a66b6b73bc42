package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// MessageType enumerates high-level protocol intents.
type MessageType string

const (
	MessageTypeAuthRequest  MessageType = "auth_request"
	MessageTypeAuthResponse MessageType = "auth_response"
	MessageTypeHello        MessageType = "hello"
	MessageTypeEvent        MessageType = "event"
	MessageTypeAck          MessageType = "ack"
	MessageTypePing         MessageType = "ping"
)

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Event     string      `json:"event,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Token     string      `json:"token,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// AckPayload represents acknowledgement semantics.
type AckPayload struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// Ack statuses.
const (
	AckOK    = "ok"
	AckError = "error"
)

// AuthRequest carries login or registration data.
type AuthRequest struct {
	Action   string `json:"action"` // login or register
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse returns token and status details to client.
type AuthResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
}

// HelloResponse confirms a session after the handshake.
type HelloResponse struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Rooms     []string `json:"rooms"`
}

// ErrEmptyPayload is returned when a frame that needs a payload has none.
var ErrEmptyPayload = errors.New("payload empty")

// DecodePayload converts the generic payload of a decoded envelope into T.
func DecodePayload[T any](payload interface{}) (T, error) {
	var out T
	if payload == nil {
		return out, ErrEmptyPayload
	}
	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return out, err
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
