package dto

import (
	"encoding/json"
	"fmt"

	"chat-sync/internal/model"
)

const (
	EventJoin                   = "join"
	EventLeave                  = "leave"
	EventMessage                = "message"
	EventTyping                 = "typing"
	EventMessageReactionUpdated = "messageReactionUpdated"
	EventSessionUpdated         = "sessionUpdated"
	EventError                  = "error"
)

// Envelope is the frame exchanged over the channel connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %s: marshal payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

type JoinEvent struct {
	ActorID   string     `json:"actorId" validate:"required"`
	SessionID string     `json:"sessionId" validate:"required"`
	Role      model.Role `json:"role" validate:"required,oneof=user cashier bot admin"`
}

type LeaveEvent struct {
	ActorID   string `json:"actorId" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`
}

type TypingEvent struct {
	SessionID string `json:"sessionId" validate:"required"`
	ActorID   string `json:"actorId" validate:"required"`
	Typing    bool   `json:"typing"`
}

type ReactionUpdatedEvent struct {
	SessionID string           `json:"sessionId" validate:"required"`
	MessageID string           `json:"messageId" validate:"required"`
	Reactions []model.Reaction `json:"reactions" validate:"dive"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// MessageEvent validates an inbound chat message before it reaches a store.
type MessageEvent struct {
	ID          string            `json:"id" validate:"required"`
	SessionID   string            `json:"sessionId" validate:"required"`
	SenderID    string            `json:"senderId" validate:"required"`
	SenderRole  model.Role        `json:"senderRole" validate:"required,oneof=user cashier bot admin"`
	ContentType model.ContentType `json:"contentType" validate:"omitempty,oneof=text image file"`
	Reactions   []model.Reaction  `json:"reactions" validate:"dive"`
}

// DecodeMessage parses and validates a message payload.
func DecodeMessage(data []byte) (model.ChatMessage, error) {
	var check MessageEvent
	if err := Decode(data, &check); err != nil {
		return model.ChatMessage{}, err
	}
	var msg model.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.ChatMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.ContentType == "" {
		msg.ContentType = model.ContentTypeText
	}
	msg.Reactions = model.NormalizeReactions(msg.Reactions)
	return msg, nil
}

// DecodeSession parses and validates a session payload.
func DecodeSession(data []byte) (model.ChatSession, error) {
	var session model.ChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		return model.ChatSession{}, fmt.Errorf("decode session: %w", err)
	}
	if session.ID == "" {
		return model.ChatSession{}, fmt.Errorf("decode session: missing id")
	}
	return session, nil
}
