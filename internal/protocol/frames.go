// Package protocol defines the WebSocket frame types exchanged between the
// client and the realtime server. All frames are JSON objects with a "type"
// discriminator; the rest of the payload depends on the type.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeMarkRead    = "mark_read"
	TypeHeartbeat   = "heartbeat"
)

// Server -> Client frame types.
const (
	TypeConnected        = "connected"
	TypeMessageDelivered = "message_delivered"
	TypeTypingUpdate     = "typing_update"
	TypePresenceUpdate   = "presence_update"
	TypeNotificationPush = "notification_push"
	TypeError            = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the frame type and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the payload can be decoded later into the appropriate struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frame structs
// ---------------------------------------------------------------------------

// SendMessageFrame carries a new chat message from the client.
type SendMessageFrame struct {
	Type      string   `json:"type"`
	ChatID    string   `json:"chat_id"`
	Content   string   `json:"content"`
	Mentioned []string `json:"mentioned_users,omitempty"`
}

// TypingFrame signals that the user is typing in a chat. There is no
// "stopped typing" counterpart; the indicator expires on its own.
type TypingFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// MarkReadFrame acknowledges that the user has read a message.
type MarkReadFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// HeartbeatFrame is a client keepalive. Any inbound frame refreshes the
// user's presence lease; this one exists for otherwise idle clients.
type HeartbeatFrame struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client frame structs
// ---------------------------------------------------------------------------

// ConnectedFrame is sent once after a successful handshake.
type ConnectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// MessageDeliveredFrame pushes a persisted chat message to a participant.
type MessageDeliveredFrame struct {
	Type      string   `json:"type"`
	MessageID string   `json:"message_id"`
	ChatID    string   `json:"chat_id"`
	SenderID  string   `json:"sender_id"`
	Content   string   `json:"content"`
	Mentioned []string `json:"mentioned_users,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// TypingUpdateFrame relays another participant's typing indicator.
type TypingUpdateFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// PresenceUpdateFrame announces that a user came online or went offline.
type PresenceUpdateFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// NotificationPushFrame delivers a freshly persisted notification to a user
// who is online right now. Offline users fetch unread rows on next load.
type NotificationPushFrame struct {
	Type             string          `json:"type"`
	ID               string          `json:"id"`
	NotificationType string          `json:"notification_type"`
	Title            string          `json:"title"`
	Message          string          `json:"message"`
	Data             json.RawMessage `json:"data,omitempty"`
	CreatedAt        int64           `json:"created_at"`
}

// ErrorFrame communicates an error condition to the client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientFrame parses raw WebSocket bytes into a typed client frame.
// It returns the frame type string, the decoded struct, and any error
// encountered. An error is returned for unknown or server-only frame types.
func ParseClientFrame(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		frame interface{}
		err   error
	)

	switch env.Type {
	case TypeSendMessage:
		var f SendMessageFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeTyping:
		var f TypingFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeMarkRead:
		var f MarkReadFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeHeartbeat:
		var f HeartbeatFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client frame type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, frame, nil
}

// NewServerFrame creates a JSON-encoded byte slice for a server frame. The
// frameType is injected into the payload under the "type" key so the structs
// above never need their Type field pre-filled.
func NewServerFrame(frameType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = frameType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server frame: %w", err)
	}
	return out, nil
}
