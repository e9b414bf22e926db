package messaging

import "encoding/json"

// Event kinds carried on the chat subject.
const (
	KindMessage = "message"
	KindTyping  = "typing"
)

// ChatEvent is the fan-out payload for chat activity. The publishing process
// resolves the chat's participant list from the durable store and embeds it,
// so receiving processes only need to consult their local connection
// registry. Message events are published strictly after the message row is
// persisted.
type ChatEvent struct {
	Kind         string   `json:"kind"` // "message" or "typing"
	MessageID    string   `json:"message_id,omitempty"`
	ChatID       string   `json:"chat_id"`
	SenderID     string   `json:"sender_id"`
	Content      string   `json:"content,omitempty"`
	Mentioned    []string `json:"mentioned_users,omitempty"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"created_at"`
}

// NotificationEvent is the fan-out payload for a freshly persisted
// notification. It is only published when the target user is online
// somewhere in the cluster.
type NotificationEvent struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"notification_type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// PresenceEvent announces a user's aggregate presence transition. Dropped
// events are harmless: presence queries always recompute from the lease
// keys.
type PresenceEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
	At     int64  `json:"at"`
}
