package chat

import (
	"context"

	"chat-sync/internal/dto"
	"chat-sync/internal/model"
)

// API is the request/response collaborator that owns sessions and messages.
type API interface {
	FetchOrCreateSession(ctx context.Context, actor model.Actor) (model.ChatSession, error)
	FetchSessionForCustomer(ctx context.Context, customerID string) (model.ChatSession, error)
	// ClaimSession is idempotent and returns the session with its current assignee.
	ClaimSession(ctx context.Context, sessionID, operatorID string) (model.ChatSession, error)
	// FetchMessages returns the newest page when before is empty.
	FetchMessages(ctx context.Context, sessionID, before string) (model.MessagePage, error)
	SendMessage(ctx context.Context, req dto.SendMessageRequest) (*model.ChatMessage, error)
	ListSessionsForOperatorQueue(ctx context.Context) ([]model.SessionSummary, error)
	ToggleReaction(ctx context.Context, sessionID, messageID string, req dto.ToggleReactionRequest) ([]model.Reaction, error)
	CloseSession(ctx context.Context, sessionID string) (model.ChatSession, error)
}
