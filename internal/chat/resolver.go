package chat

import (
	"context"
	"strings"

	"chat-sync/internal/logger"
	"chat-sync/internal/model"
)

const moduleResolver = "chat.resolver"

// SessionResolver finds the session a controller should join: the customer's
// own session, or the session of the customer an operator picked.
type SessionResolver struct {
	api API
	log logger.ILogger
}

func NewSessionResolver(api API, log logger.ILogger) *SessionResolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &SessionResolver{api: api, log: log}
}

func (r *SessionResolver) Resolve(ctx context.Context, actor model.Actor, customerID string) (model.ChatSession, error) {
	var (
		session model.ChatSession
		err     error
	)
	if actor.Role.IsOperator() {
		customerID = strings.TrimSpace(customerID)
		if customerID == "" {
			return model.ChatSession{}, NewError(ErrorCodeValidation, "customer id is required", nil)
		}
		session, err = r.api.FetchSessionForCustomer(ctx, customerID)
	} else {
		if actor.ID == "" {
			return model.ChatSession{}, NewError(ErrorCodeValidation, "actor id is required", nil)
		}
		session, err = r.api.FetchOrCreateSession(ctx, actor)
	}
	if err != nil {
		return model.ChatSession{}, requestError("resolve session", err)
	}
	if session.ID == "" {
		return model.ChatSession{}, NewError(ErrorCodeRequest, "resolve session: response has no id", nil)
	}

	r.log.Debug(moduleResolver, "session resolved", map[string]interface{}{
		"actorId":   actor.ID,
		"sessionId": session.ID,
		"status":    session.Status,
	})
	return session, nil
}
