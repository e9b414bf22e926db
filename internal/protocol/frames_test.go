package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","chat_id":"chat-1","content":"hello there","mentioned_users":["u2","u3"]}`)

	frameType, frame, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, frameType)
	}

	sm, ok := frame.(SendMessageFrame)
	if !ok {
		t.Fatalf("expected SendMessageFrame, got %T", frame)
	}
	if sm.ChatID != "chat-1" {
		t.Errorf("expected chat_id %q, got %q", "chat-1", sm.ChatID)
	}
	if sm.Content != "hello there" {
		t.Errorf("expected content %q, got %q", "hello there", sm.Content)
	}
	if len(sm.Mentioned) != 2 || sm.Mentioned[0] != "u2" || sm.Mentioned[1] != "u3" {
		t.Errorf("unexpected mentioned_users: %v", sm.Mentioned)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a typing frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","chat_id":"chat-9"}`)

	frameType, frame, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, frameType)
	}

	tf, ok := frame.(TypingFrame)
	if !ok {
		t.Fatalf("expected TypingFrame, got %T", frame)
	}
	if tf.ChatID != "chat-9" {
		t.Errorf("expected chat_id %q, got %q", "chat-9", tf.ChatID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a mark_read frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_MarkRead(t *testing.T) {
	input := []byte(`{"type":"mark_read","message_id":"msg-42"}`)

	frameType, frame, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeMarkRead {
		t.Fatalf("expected type %q, got %q", TypeMarkRead, frameType)
	}

	mr, ok := frame.(MarkReadFrame)
	if !ok {
		t.Fatalf("expected MarkReadFrame, got %T", frame)
	}
	if mr.MessageID != "msg-42" {
		t.Errorf("expected message_id %q, got %q", "msg-42", mr.MessageID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a heartbeat frame
// ---------------------------------------------------------------------------

func TestParseClientFrame_Heartbeat(t *testing.T) {
	frameType, frame, err := ParseClientFrame([]byte(`{"type":"heartbeat"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeHeartbeat {
		t.Fatalf("expected type %q, got %q", TypeHeartbeat, frameType)
	}
	if _, ok := frame.(HeartbeatFrame); !ok {
		t.Fatalf("expected HeartbeatFrame, got %T", frame)
	}
}

// ---------------------------------------------------------------------------
// Test: Invalid inputs
// ---------------------------------------------------------------------------

func TestParseClientFrame_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientFrame([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseClientFrame_MissingType(t *testing.T) {
	_, _, err := ParseClientFrame([]byte(`{"chat_id":"chat-1"}`))
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientFrame_UnknownType(t *testing.T) {
	frameType, _, err := ParseClientFrame([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if frameType != "bogus" {
		t.Errorf("expected type %q returned even on error, got %q", "bogus", frameType)
	}
}

// Server-only frame types must be rejected from clients.
func TestParseClientFrame_ServerOnlyType(t *testing.T) {
	_, _, err := ParseClientFrame([]byte(`{"type":"message_delivered","message_id":"m1"}`))
	if err == nil {
		t.Fatal("expected error for server-only frame type")
	}
}

// ---------------------------------------------------------------------------
// Test: Server frame construction
// ---------------------------------------------------------------------------

func TestNewServerFrame_InjectsType(t *testing.T) {
	data, err := NewServerFrame(TypeTypingUpdate, TypingUpdateFrame{
		ChatID: "chat-1",
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeTypingUpdate {
		t.Errorf("expected type %q, got %v", TypeTypingUpdate, decoded["type"])
	}
	if decoded["chat_id"] != "chat-1" {
		t.Errorf("expected chat_id %q, got %v", "chat-1", decoded["chat_id"])
	}
	if decoded["user_id"] != "u1" {
		t.Errorf("expected user_id %q, got %v", "u1", decoded["user_id"])
	}
}

func TestNewServerFrame_RoundTrip(t *testing.T) {
	data, err := NewServerFrame(TypeMessageDelivered, MessageDeliveredFrame{
		MessageID: "m1",
		ChatID:    "c1",
		SenderID:  "u1",
		Content:   "hi",
		CreatedAt: 1700000000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out MessageDeliveredFrame
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("round trip unmarshal failed: %v", err)
	}
	if out.Type != TypeMessageDelivered {
		t.Errorf("expected type %q, got %q", TypeMessageDelivered, out.Type)
	}
	if out.MessageID != "m1" || out.ChatID != "c1" || out.SenderID != "u1" {
		t.Errorf("unexpected fields: %+v", out)
	}
	if out.CreatedAt != 1700000000 {
		t.Errorf("expected created_at 1700000000, got %d", out.CreatedAt)
	}
}
