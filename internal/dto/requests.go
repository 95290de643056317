package dto

import "chat-sync/internal/model"

type ResolveSessionRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type ClaimSessionRequest struct {
	OperatorID string `json:"operatorId" validate:"required"`
}

type ClaimSessionResponse struct {
	Session model.ChatSession `json:"session"`
	Claimed bool              `json:"claimed"`
}

type SendMessageRequest struct {
	SessionID       string            `json:"sessionId" validate:"required"`
	Content         string            `json:"content" validate:"required,max=4000"`
	ContentType     model.ContentType `json:"contentType,omitempty" validate:"omitempty,oneof=text image file"`
	ReplyToID       string            `json:"replyToId,omitempty"`
	SenderID        string            `json:"senderId,omitempty"`
	Role            model.Role        `json:"role" validate:"required,oneof=user cashier bot admin"`
	ClientMessageID string            `json:"clientMessageId,omitempty" validate:"omitempty,max=64"`
}

type ToggleReactionRequest struct {
	Emoji     string `json:"emoji" validate:"required,max=32"`
	ReactorID string `json:"reactorId,omitempty"`
}

type ReactionsResponse struct {
	MessageID string           `json:"messageId"`
	Reactions []model.Reaction `json:"reactions"`
}

type MessagesResponse struct {
	Messages []model.ChatMessage `json:"messages"`
	Final    bool                `json:"final"`
}

type QueueResponse struct {
	Sessions []model.SessionSummary `json:"sessions"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
