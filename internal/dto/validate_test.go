package dto

import (
	"testing"

	"chat-sync/internal/model"
)

func TestDecodeMessageRejectsMissingSession(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"id":"m1","senderId":"u1","senderRole":"user","content":"hi"}`))
	if err == nil {
		t.Fatal("expected validation error for message without sessionId")
	}
}

func TestDecodeMessageDefaultsContentType(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"id":"m1","sessionId":"s1","senderId":"u1","senderRole":"user","content":"hi","sentAt":"2024-01-01T10:00:00Z"}`))
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if msg.ContentType != model.ContentTypeText {
		t.Fatalf("expected text content type, got %s", msg.ContentType)
	}
}

func TestDecodeTypingEvent(t *testing.T) {
	var ev TypingEvent
	if err := Decode([]byte(`{"sessionId":"s1","typing":true}`), &ev); err == nil {
		t.Fatal("expected error for typing event without actorId")
	}
	if err := Decode([]byte(`{"sessionId":"s1","actorId":"u1","typing":false}`), &ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendMessageRequestRole(t *testing.T) {
	req := SendMessageRequest{SessionID: "s1", Content: "hello", Role: "guest"}
	if err := Validate(req); err == nil {
		t.Fatal("expected invalid role to fail")
	}
	req.Role = model.RoleUser
	if err := Validate(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
