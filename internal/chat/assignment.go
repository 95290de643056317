package chat

import (
	"context"

	"chat-sync/internal/logger"
	"chat-sync/internal/model"
)

const moduleAssignment = "chat.assignment"

type ClaimResult struct {
	Session model.ChatSession
	// Claimed is true when the caller is the assignee after the claim.
	Claimed bool
}

// OperatorAssignment claims unassigned sessions for an operator. The outcome
// is always the collaborator's answer, never a local assumption.
type OperatorAssignment struct {
	api API
	log logger.ILogger
}

func NewOperatorAssignment(api API, log logger.ILogger) *OperatorAssignment {
	if log == nil {
		log = logger.NewNop()
	}
	return &OperatorAssignment{api: api, log: log}
}

func (a *OperatorAssignment) Claim(ctx context.Context, session model.ChatSession, operatorID string) (ClaimResult, error) {
	if session.ID == "" || operatorID == "" {
		return ClaimResult{}, NewError(ErrorCodeValidation, "claim requires a session and an operator", nil)
	}
	if session.Assigned() {
		return ClaimResult{Session: session, Claimed: session.OperatorID == operatorID}, nil
	}

	current, err := a.api.ClaimSession(ctx, session.ID, operatorID)
	if err != nil {
		if !IsCode(err, ErrorCodeConflict) {
			return ClaimResult{}, requestError("claim session", err)
		}
		refreshed, ferr := a.api.FetchSessionForCustomer(ctx, session.CustomerID)
		if ferr != nil {
			return ClaimResult{}, requestError("refresh session after conflict", ferr)
		}
		current = refreshed
	}
	if !current.Assigned() {
		return ClaimResult{}, NewError(ErrorCodeRequest, "claim session: assignment not confirmed", nil)
	}

	claimed := current.OperatorID == operatorID
	if !claimed {
		a.log.Info(moduleAssignment, "session already assigned", map[string]interface{}{
			"sessionId":  current.ID,
			"operatorId": current.OperatorID,
			"requester":  operatorID,
		})
	}
	return ClaimResult{Session: current, Claimed: claimed}, nil
}
