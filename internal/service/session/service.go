package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"chat-sync/internal/database"
	"chat-sync/internal/dto"
	"chat-sync/internal/logger"
	"chat-sync/internal/model"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	module = "service.session"

	defaultPageSize     = 30
	maxPageSize         = 100
	defaultQueueSize    = 50
	previewLength       = 80
	maxReactionAttempts = 5
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Publisher delivers channel events to everyone joined to a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID, event string, payload interface{}) error
}

type Options struct {
	// IdempotencyTTL is how long a clientMessageId is remembered.
	IdempotencyTTL time.Duration
	Logger         logger.ILogger
	Now            func() time.Time
}

type Service struct {
	repo      Repository
	publisher Publisher
	sent      *cache.Cache
	log       logger.ILogger
	now       func() time.Time
}

func New(db *database.Database, publisher Publisher, opts Options) *Service {
	return NewWithRepository(NewDynamoRepository(db), publisher, opts)
}

func NewWithRepository(repo Repository, publisher Publisher, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 10 * time.Minute
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		sent:      cache.New(opts.IdempotencyTTL, 2*opts.IdempotencyTTL),
		log:       opts.Logger,
		now:       opts.Now,
	}
}

func (s *Service) timestamp() (time.Time, string) {
	now := s.now().UTC()
	return now, model.FormatTime(now)
}

// FetchOrCreateSession returns the customer's current session, opening a new
// pending one when there is none or the last one is closed. Concurrent calls
// for one customer agree on a single session.
func (s *Service) FetchOrCreateSession(ctx context.Context, actor model.Actor, metadata map[string]string) (model.ChatSession, error) {
	if actor.ID == "" {
		return model.ChatSession{}, newError(ErrorCodeUnauthorized, "actor is required", nil)
	}
	if actor.Role != model.RoleUser {
		return model.ChatSession{}, newError(ErrorCodeForbidden, "only customers open sessions", nil)
	}

	expected := ""
	pointer, err := s.repo.GetCustomerSession(ctx, actor.ID)
	switch {
	case err == nil:
		current, err := s.repo.GetSession(ctx, pointer.CurrentSessionID)
		if err == nil && current.Status != model.SessionStatusClosed {
			return current.ToSession(), nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return model.ChatSession{}, newError(ErrorCodeInternal, "failed to load session", err)
		}
		expected = pointer.CurrentSessionID
	case errors.Is(err, ErrNotFound):
	default:
		return model.ChatSession{}, newError(ErrorCodeInternal, "failed to load customer session", err)
	}

	_, nowStr := s.timestamp()
	created := model.SessionItem{
		SessionID:     uuid.NewString(),
		CustomerID:    actor.ID,
		Status:        model.SessionStatusPending,
		InitiatedBy:   model.InitiatorCustomer,
		Metadata:      cloneStringMap(metadata),
		CreatedAt:     nowStr,
		UpdatedAt:     nowStr,
		LastMessageAt: nowStr,
	}
	if err := s.repo.CreateSession(ctx, created); err != nil {
		return model.ChatSession{}, newError(ErrorCodeInternal, "failed to create session", err)
	}

	err = s.repo.SetCustomerSession(ctx, model.CustomerSessionItem{
		CustomerID:       actor.ID,
		CurrentSessionID: created.SessionID,
		UpdatedAt:        nowStr,
	}, expected)
	if err == nil {
		s.log.Info(module, "session created", map[string]interface{}{
			"sessionId":  created.SessionID,
			"customerId": actor.ID,
		})
		return created.ToSession(), nil
	}
	if !errors.Is(err, ErrConflict) {
		return model.ChatSession{}, newError(ErrorCodeInternal, "failed to record customer session", err)
	}

	// Another request won the pointer; retire ours and return the winner.
	if _, err := s.repo.UpdateSessionStatus(ctx, created.SessionID, model.SessionStatusClosed, nowStr); err != nil {
		s.log.Warn(module, "failed to close losing session", map[string]interface{}{
			"sessionId": created.SessionID,
			"error":     err,
		})
	}
	winner, err := s.repo.GetCustomerSession(ctx, actor.ID)
	if err != nil {
		return model.ChatSession{}, newError(ErrorCodeInternal, "failed to reload customer session", err)
	}
	current, err := s.repo.GetSession(ctx, winner.CurrentSessionID)
	if err != nil {
		return model.ChatSession{}, newError(ErrorCodeInternal, "failed to load session", err)
	}
	return current.ToSession(), nil
}

// FetchSessionForCustomer returns the latest session of customerID.
func (s *Service) FetchSessionForCustomer(ctx context.Context, actor model.Actor, customerID string) (model.ChatSession, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return model.ChatSession{}, newError(ErrorCodeValidation, "customerId is required", nil)
	}
	if !actor.Role.IsOperator() && actor.ID != customerID {
		return model.ChatSession{}, newError(ErrorCodeForbidden, "not allowed to view this customer", nil)
	}

	pointer, err := s.repo.GetCustomerSession(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ChatSession{}, newError(ErrorCodeNotFound, "customer has no session", err)
		}
		return model.ChatSession{}, newError(ErrorCodeInternal, "failed to load customer session", err)
	}
	session, err := s.loadSession(ctx, pointer.CurrentSessionID)
	if err != nil {
		return model.ChatSession{}, err
	}
	return session.ToSession(), nil
}

// ClaimSession assigns the session to operatorID if nobody holds it yet. It is
// idempotent: every caller gets the session with its actual assignee, and
// claimed tells whether that is operatorID.
func (s *Service) ClaimSession(ctx context.Context, actor model.Actor, sessionID, operatorID string) (model.ChatSession, bool, error) {
	if !actor.Role.IsOperator() {
		return model.ChatSession{}, false, newError(ErrorCodeForbidden, "only operators claim sessions", nil)
	}
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		operatorID = actor.ID
	}
	if operatorID != actor.ID && actor.Role != model.RoleAdmin {
		return model.ChatSession{}, false, newError(ErrorCodeForbidden, "cannot claim on behalf of another operator", nil)
	}

	current, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return model.ChatSession{}, false, err
	}
	if current.OperatorID != "" {
		return current.ToSession(), current.OperatorID == operatorID, nil
	}
	if current.Status == model.SessionStatusClosed {
		return model.ChatSession{}, false, newError(ErrorCodeConflict, "session is closed", nil)
	}

	_, nowStr := s.timestamp()
	claimed, err := s.repo.ClaimSession(ctx, sessionID, operatorID, nowStr)
	if err != nil {
		if !errors.Is(err, ErrConflict) {
			return model.ChatSession{}, false, newError(ErrorCodeInternal, "failed to claim session", err)
		}
		current, err = s.loadSession(ctx, sessionID)
		if err != nil {
			return model.ChatSession{}, false, err
		}
		return current.ToSession(), current.OperatorID == operatorID, nil
	}

	session := claimed.ToSession()
	s.log.Info(module, "session claimed", map[string]interface{}{
		"sessionId":  sessionID,
		"operatorId": operatorID,
	})
	s.publish(ctx, sessionID, dto.EventSessionUpdated, session)
	return session, true, nil
}

// FetchMessages returns the newest page, or the page older than the message
// before, in ascending order.
func (s *Service) FetchMessages(ctx context.Context, actor model.Actor, sessionID, before string, limit int) (model.MessagePage, error) {
	if _, err := s.Authorize(ctx, actor, sessionID); err != nil {
		return model.MessagePage{}, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	beforeKey := ""
	if before = strings.TrimSpace(before); before != "" {
		cursor, err := s.repo.GetMessage(ctx, sessionID, before)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return model.MessagePage{}, newError(ErrorCodeValidation, "unknown cursor", err)
			}
			return model.MessagePage{}, newError(ErrorCodeInternal, "failed to load cursor", err)
		}
		beforeKey = cursor.SortKey
	}

	items, err := s.repo.ListMessages(ctx, sessionID, beforeKey, limit)
	if err != nil {
		return model.MessagePage{}, newError(ErrorCodeInternal, "failed to list messages", err)
	}

	messages := make([]model.ChatMessage, 0, len(items))
	for _, item := range items {
		messages = append(messages, item.ToMessage())
	}
	return model.MessagePage{Messages: messages, Final: len(items) < limit}, nil
}

// SendMessage stores a message and publishes it to the session. Repeating a
// request with the same clientMessageId returns the stored message.
func (s *Service) SendMessage(ctx context.Context, actor model.Actor, req dto.SendMessageRequest) (model.ChatMessage, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.Role == "" {
		req.Role = actor.Role
	}
	if err := dto.Validate(req); err != nil {
		return model.ChatMessage{}, newError(ErrorCodeValidation, "invalid message", err)
	}
	if req.SenderID != "" && req.SenderID != actor.ID {
		return model.ChatMessage{}, newError(ErrorCodeForbidden, "sender does not match token", nil)
	}
	if req.Role != actor.Role {
		return model.ChatMessage{}, newError(ErrorCodeForbidden, "role does not match token", nil)
	}
	if req.ContentType == "" {
		req.ContentType = model.ContentTypeText
	}

	idemKey := ""
	if req.ClientMessageID != "" {
		idemKey = actor.ID + ":" + req.ClientMessageID
		if cached, ok := s.sent.Get(idemKey); ok {
			return cached.(model.ChatMessage), nil
		}
	}

	session, err := s.loadSession(ctx, req.SessionID)
	if err != nil {
		return model.ChatMessage{}, err
	}
	if err := canWrite(actor, session); err != nil {
		return model.ChatMessage{}, err
	}
	if session.Status == model.SessionStatusClosed {
		return model.ChatMessage{}, newError(ErrorCodeConflict, "session is closed", nil)
	}

	now, nowStr := s.timestamp()
	messageID := uuid.NewString()
	item := model.MessageItem{
		SessionID:   session.SessionID,
		SortKey:     model.MessageSortKey(now, messageID),
		MessageID:   messageID,
		SenderID:    actor.ID,
		SenderRole:  actor.Role,
		Content:     req.Content,
		ContentType: req.ContentType,
		SentAt:      nowStr,
		ReplyToID:   strings.TrimSpace(req.ReplyToID),
	}
	if err := s.repo.CreateMessage(ctx, item); err != nil {
		return model.ChatMessage{}, newError(ErrorCodeInternal, "failed to store message", err)
	}
	if err := s.repo.UpdateSessionActivity(ctx, session.SessionID, nowStr, preview(req.Content)); err != nil {
		s.log.Warn(module, "failed to update session activity", map[string]interface{}{
			"sessionId": session.SessionID,
			"error":     err,
		})
	}

	msg := item.ToMessage()
	if idemKey != "" {
		s.sent.SetDefault(idemKey, msg)
	}
	s.publish(ctx, session.SessionID, dto.EventMessage, msg)
	return msg, nil
}

// ToggleReaction adds the actor's emoji to a message, or removes it when it
// is already there, and returns the resulting set.
func (s *Service) ToggleReaction(ctx context.Context, actor model.Actor, sessionID, messageID, emoji string) ([]model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > 16 {
		return nil, newError(ErrorCodeValidation, "a single emoji is required", nil)
	}
	if _, err := s.Authorize(ctx, actor, sessionID); err != nil {
		return nil, err
	}

	toggled := model.Reaction{Emoji: emoji, ReactorID: actor.ID}
	var next []model.Reaction
	for attempt := 1; ; attempt++ {
		item, err := s.repo.GetMessage(ctx, sessionID, messageID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, newError(ErrorCodeNotFound, "message not found", err)
			}
			return nil, newError(ErrorCodeInternal, "failed to load message", err)
		}

		next = toggleReaction(item.ToMessage().Reactions, toggled)
		err = s.repo.UpdateMessageReactions(ctx, sessionID, item.SortKey, model.ReactionItems(next), item.ReactionsVersion)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) {
			return nil, newError(ErrorCodeInternal, "failed to store reaction", err)
		}
		if attempt == maxReactionAttempts {
			return nil, newError(ErrorCodeConflict, "message reactions are changing too fast, try again", err)
		}
		s.log.Debug(module, "reaction write raced, retrying", map[string]interface{}{
			"sessionId": sessionID,
			"messageId": messageID,
			"attempt":   attempt,
		})
	}

	s.publish(ctx, sessionID, dto.EventMessageReactionUpdated, dto.ReactionUpdatedEvent{
		SessionID: sessionID,
		MessageID: messageID,
		Reactions: next,
	})
	return next, nil
}

// toggleReaction removes r from current when its key is present and adds it
// otherwise.
func toggleReaction(current []model.Reaction, r model.Reaction) []model.Reaction {
	next := make([]model.Reaction, 0, len(current)+1)
	removed := false
	for _, existing := range current {
		if existing.Key() == r.Key() {
			removed = true
			continue
		}
		next = append(next, existing)
	}
	if !removed {
		next = append(next, r)
	}
	return model.NormalizeReactions(next)
}

func (s *Service) CloseSession(ctx context.Context, actor model.Actor, sessionID string) (model.ChatSession, error) {
	current, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return model.ChatSession{}, err
	}
	if err := canWrite(actor, current); err != nil {
		return model.ChatSession{}, err
	}
	if current.Status == model.SessionStatusClosed {
		return current.ToSession(), nil
	}

	_, nowStr := s.timestamp()
	closed, err := s.repo.UpdateSessionStatus(ctx, sessionID, model.SessionStatusClosed, nowStr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ChatSession{}, newError(ErrorCodeNotFound, "session not found", err)
		}
		return model.ChatSession{}, newError(ErrorCodeInternal, "failed to close session", err)
	}

	session := closed.ToSession()
	s.publish(ctx, sessionID, dto.EventSessionUpdated, session)
	return session, nil
}

// ListQueue returns sessions that are not closed, unassigned ones first and
// then by most recent activity.
func (s *Service) ListQueue(ctx context.Context, actor model.Actor, limit int) ([]model.SessionSummary, error) {
	if !actor.Role.IsOperator() {
		return nil, newError(ErrorCodeForbidden, "only operators see the queue", nil)
	}
	if limit <= 0 {
		limit = defaultQueueSize
	}

	items, err := s.repo.ListOpenSessions(ctx)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list sessions", err)
	}

	sort.Slice(items, func(i, j int) bool {
		ai, aj := items[i].OperatorID == "", items[j].OperatorID == ""
		if ai != aj {
			return ai
		}
		if items[i].LastMessageAt != items[j].LastMessageAt {
			return items[i].LastMessageAt > items[j].LastMessageAt
		}
		return items[i].SessionID < items[j].SessionID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]model.SessionSummary, 0, len(items))
	for _, item := range items {
		out = append(out, item.ToSummary())
	}
	return out, nil
}

// Authorize checks that actor may read sessionID: its customer or any operator.
func (s *Service) Authorize(ctx context.Context, actor model.Actor, sessionID string) (model.ChatSession, error) {
	if actor.ID == "" {
		return model.ChatSession{}, newError(ErrorCodeUnauthorized, "actor is required", nil)
	}
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return model.ChatSession{}, err
	}
	if actor.Role.IsOperator() || actor.Role == model.RoleBot || session.CustomerID == actor.ID {
		return session.ToSession(), nil
	}
	return model.ChatSession{}, newError(ErrorCodeForbidden, "not a participant of this session", nil)
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (model.SessionItem, error) {
	if strings.TrimSpace(sessionID) == "" {
		return model.SessionItem{}, newError(ErrorCodeValidation, "sessionId is required", nil)
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.SessionItem{}, newError(ErrorCodeNotFound, "session not found", err)
		}
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to fetch session", err)
	}
	return session, nil
}

// publish is best-effort: the write already succeeded and clients catch up
// from history.
func (s *Service) publish(ctx context.Context, sessionID, event string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, sessionID, event, payload); err != nil {
		s.log.Warn(module, "publish failed", map[string]interface{}{
			"sessionId": sessionID,
			"event":     event,
			"error":     err,
		})
	}
}

// canWrite allows the session's customer, its assigned operator, admins and bots.
func canWrite(actor model.Actor, session model.SessionItem) error {
	switch {
	case actor.Role == model.RoleAdmin, actor.Role == model.RoleBot:
		return nil
	case actor.Role == model.RoleUser && session.CustomerID == actor.ID:
		return nil
	case actor.Role == model.RoleCashier && session.OperatorID == actor.ID:
		return nil
	case actor.Role == model.RoleCashier && session.OperatorID == "":
		return newError(ErrorCodeConflict, "claim the session first", nil)
	}
	return newError(ErrorCodeForbidden, "not allowed to write to this session", nil)
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "…"
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
