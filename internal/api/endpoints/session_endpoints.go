package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"chat-sync/internal/dto"
	"chat-sync/internal/service/session"
)

type SessionEndpoints interface {
	Sessions(http.ResponseWriter, *http.Request) error
	CustomerSession(http.ResponseWriter, *http.Request) error
	Claim(http.ResponseWriter, *http.Request) error
	Messages(http.ResponseWriter, *http.Request) error
	Reactions(http.ResponseWriter, *http.Request) error
	Close(http.ResponseWriter, *http.Request) error
	Queue(http.ResponseWriter, *http.Request) error
}

type sessionEndpoints struct {
	service *session.Service
}

func NewSessionEndpoints(service *session.Service) SessionEndpoints {
	return &sessionEndpoints{service: service}
}

func (h *sessionEndpoints) Sessions(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleResolveSession,
	})
}

func (h *sessionEndpoints) CustomerSession(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleCustomerSession,
	})
}

func (h *sessionEndpoints) Claim(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleClaim,
	})
}

func (h *sessionEndpoints) Messages(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleListMessages,
		http.MethodPost: h.handleSendMessage,
	})
}

func (h *sessionEndpoints) Reactions(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleToggleReaction,
	})
}

func (h *sessionEndpoints) Close(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleClose,
	})
}

func (h *sessionEndpoints) Queue(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleQueue,
	})
}

func (h *sessionEndpoints) handleResolveSession(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	var req dto.ResolveSessionRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	result, err := h.service.FetchOrCreateSession(r.Context(), actor, req.Metadata)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, result)
}

func (h *sessionEndpoints) handleCustomerSession(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	result, err := h.service.FetchSessionForCustomer(r.Context(), actor, r.PathValue("customerId"))
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, result)
}

func (h *sessionEndpoints) handleClaim(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	var req dto.ClaimSessionRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	result, claimed, err := h.service.ClaimSession(r.Context(), actor, r.PathValue("sessionId"), req.OperatorID)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ClaimSessionResponse{Session: result, Claimed: claimed})
}

func (h *sessionEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return &HTTPError{
				StatusCode: http.StatusBadRequest,
				Message:    "Invalid limit parameter",
				ErrorLog:   fmt.Errorf("invalid limit %q", raw),
			}
		}
	}

	page, err := h.service.FetchMessages(r.Context(), actor, r.PathValue("sessionId"), r.URL.Query().Get("before"), limit)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.MessagesResponse{Messages: page.Messages, Final: page.Final})
}

func (h *sessionEndpoints) handleSendMessage(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	var req dto.SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	sessionID := r.PathValue("sessionId")
	if req.SessionID == "" {
		req.SessionID = sessionID
	}
	if req.SessionID != sessionID {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "sessionId does not match path",
			ErrorLog:   fmt.Errorf("send path mismatch: %s vs %s", sessionID, req.SessionID),
		}
	}

	msg, err := h.service.SendMessage(r.Context(), actor, req)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusCreated, msg)
}

func (h *sessionEndpoints) handleToggleReaction(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	var req dto.ToggleReactionRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.ReactorID != "" && req.ReactorID != actor.ID {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "reactorId does not match token",
			ErrorLog:   fmt.Errorf("reactor mismatch: %s vs %s", req.ReactorID, actor.ID),
		}
	}

	messageID := r.PathValue("messageId")
	reactions, err := h.service.ToggleReaction(r.Context(), actor, r.PathValue("sessionId"), messageID, req.Emoji)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ReactionsResponse{MessageID: messageID, Reactions: reactions})
}

func (h *sessionEndpoints) handleClose(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	result, err := h.service.CloseSession(r.Context(), actor, r.PathValue("sessionId"))
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, result)
}

func (h *sessionEndpoints) handleQueue(w http.ResponseWriter, r *http.Request) error {
	actor, err := actorFrom(r)
	if err != nil {
		return err
	}

	sessions, err := h.service.ListQueue(r.Context(), actor, 0)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.QueueResponse{Sessions: sessions})
}

func serviceError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *session.Error
	if !errors.As(err, &svcErr) {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("session service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case session.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case session.ErrorCodeUnauthorized:
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: svcErr.Message, ErrorLog: logErr}
	case session.ErrorCodeForbidden:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	case session.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case session.ErrorCodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}
