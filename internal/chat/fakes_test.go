package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-sync/internal/dto"
	"chat-sync/internal/model"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return baseTime.Add(time.Duration(sec) * time.Second)
}

func msg(id, sessionID string, sec int) model.ChatMessage {
	return model.ChatMessage{
		ID:          id,
		SessionID:   sessionID,
		SenderID:    "customer-1",
		SenderRole:  model.RoleUser,
		Content:     "content " + id,
		ContentType: model.ContentTypeText,
		SentAt:      at(sec),
	}
}

func ids(msgs []model.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

type emitted struct {
	event string
	data  json.RawMessage
}

type fakeChannel struct {
	mu         sync.Mutex
	connected  bool
	connects   int
	connectErr error
	nextID     HandlerID
	handlers   map[string]map[HandlerID]Handler
	emitted    []emitted
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]map[HandlerID]Handler)}
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connectErr != nil {
		f.mu.Unlock()
		return f.connectErr
	}
	f.connected = true
	f.connects++
	f.mu.Unlock()
	f.dispatch(EventConnect, nil)
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.dispatch(EventDisconnect, nil)
	return nil
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Emit(ctx context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.emitted = append(f.emitted, emitted{event: event, data: data})
	return nil
}

func (f *fakeChannel) On(event string, h Handler) HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[HandlerID]Handler)
	}
	f.handlers[event][f.nextID] = h
	return f.nextID
}

func (f *fakeChannel) Off(event string, ids ...HandlerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) == 0 {
		delete(f.handlers, event)
		return
	}
	for _, id := range ids {
		delete(f.handlers[event], id)
	}
}

// dispatch invokes handlers in registration order without holding the lock.
func (f *fakeChannel) dispatch(event string, payload interface{}) {
	var data json.RawMessage
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	f.mu.Lock()
	hids := make([]HandlerID, 0, len(f.handlers[event]))
	for id := range f.handlers[event] {
		hids = append(hids, id)
	}
	sort.Slice(hids, func(i, j int) bool { return hids[i] < hids[j] })
	hs := make([]Handler, 0, len(hids))
	for _, id := range hids {
		hs = append(hs, f.handlers[event][id])
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

// drop simulates a lost connection and restore a transparent reconnect.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.dispatch(EventDisconnect, nil)
}

func (f *fakeChannel) restore() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.dispatch(EventConnect, nil)
}

func (f *fakeChannel) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeChannel) eventsNamed(event string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, e := range f.emitted {
		if e.event == event {
			out = append(out, e.data)
		}
	}
	return out
}

type fakeAPI struct {
	mu       sync.Mutex
	pageSize int
	seq      int

	sessions map[string]model.ChatSession
	messages map[string][]model.ChatMessage

	claimCalls         int
	sendCalls          int
	conflictOnAssigned bool
	fetchErr           error
	sendErr            error

	// gates run before the call reads state. They may block; a non-nil
	// error fails the call.
	fetchGate func(ctx context.Context, sessionID, before string) error
	sendGate  func(ctx context.Context) error
}

func newFakeAPI(pageSize int) *fakeAPI {
	return &fakeAPI{
		pageSize: pageSize,
		sessions: make(map[string]model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (f *fakeAPI) addSession(s model.ChatSession, msgs ...model.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.CustomerID] = s
	f.messages[s.ID] = append(f.messages[s.ID], msgs...)
	sort.Slice(f.messages[s.ID], func(i, j int) bool {
		return model.Less(f.messages[s.ID][i], f.messages[s.ID][j])
	})
}

func (f *fakeAPI) FetchOrCreateSession(ctx context.Context, actor model.Actor) (model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[actor.ID]; ok {
		return s, nil
	}
	s := model.ChatSession{
		ID:          "session-" + actor.ID,
		CustomerID:  actor.ID,
		Status:      model.SessionStatusPending,
		InitiatedBy: model.InitiatorCustomer,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
	f.sessions[actor.ID] = s
	return s, nil
}

func (f *fakeAPI) FetchSessionForCustomer(ctx context.Context, customerID string) (model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[customerID]
	if !ok {
		return model.ChatSession{}, NewError(ErrorCodeRequest, "session not found", nil)
	}
	return s, nil
}

func (f *fakeAPI) ClaimSession(ctx context.Context, sessionID, operatorID string) (model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	for customerID, s := range f.sessions {
		if s.ID != sessionID {
			continue
		}
		if s.OperatorID == "" {
			s.OperatorID = operatorID
			s.Status = model.SessionStatusOpen
			f.sessions[customerID] = s
		} else if s.OperatorID != operatorID && f.conflictOnAssigned {
			return model.ChatSession{}, NewError(ErrorCodeConflict, "session already assigned", nil)
		}
		return s, nil
	}
	return model.ChatSession{}, NewError(ErrorCodeRequest, "session not found", nil)
}

func (f *fakeAPI) FetchMessages(ctx context.Context, sessionID, before string) (model.MessagePage, error) {
	if f.fetchGate != nil {
		if err := f.fetchGate(ctx, sessionID, before); err != nil {
			return model.MessagePage{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return model.MessagePage{}, f.fetchErr
	}
	all := f.messages[sessionID]
	end := len(all)
	if before != "" {
		end = 0
		for i, m := range all {
			if m.ID == before {
				end = i
				break
			}
		}
	}
	start := end - f.pageSize
	if start < 0 {
		start = 0
	}
	page := make([]model.ChatMessage, end-start)
	copy(page, all[start:end])
	return model.MessagePage{Messages: page, Final: end-start < f.pageSize}, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, req dto.SendMessageRequest) (*model.ChatMessage, error) {
	if f.sendGate != nil {
		if err := f.sendGate(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.seq++
	m := model.ChatMessage{
		ID:          fmt.Sprintf("sent-%d", f.seq),
		SessionID:   req.SessionID,
		SenderID:    req.SenderID,
		SenderRole:  req.Role,
		Content:     req.Content,
		ContentType: req.ContentType,
		SentAt:      at(1000 + f.seq),
		ReplyToID:   req.ReplyToID,
	}
	f.messages[req.SessionID] = append(f.messages[req.SessionID], m)
	return &m, nil
}

func (f *fakeAPI) ListSessionsForOperatorQueue(ctx context.Context) ([]model.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SessionSummary, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, model.SessionSummary{SessionID: s.ID, CustomerID: s.CustomerID, OperatorID: s.OperatorID, Status: s.Status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (f *fakeAPI) ToggleReaction(ctx context.Context, sessionID, messageID string, req dto.ToggleReactionRequest) ([]model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		r := model.Reaction{Emoji: req.Emoji, ReactorID: req.ReactorID}
		kept := msgs[i].Reactions[:0:0]
		removed := false
		for _, existing := range msgs[i].Reactions {
			if existing.Key() == r.Key() {
				removed = true
				continue
			}
			kept = append(kept, existing)
		}
		if !removed {
			kept = append(kept, r)
		}
		msgs[i].Reactions = model.NormalizeReactions(kept)
		return msgs[i].Reactions, nil
	}
	return nil, NewError(ErrorCodeRequest, "message not found", nil)
}

func (f *fakeAPI) CloseSession(ctx context.Context, sessionID string) (model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for customerID, s := range f.sessions {
		if s.ID == sessionID {
			s.Status = model.SessionStatusClosed
			f.sessions[customerID] = s
			return s, nil
		}
	}
	return model.ChatSession{}, NewError(ErrorCodeRequest, "session not found", nil)
}

func (f *fakeAPI) counts() (claims, sends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimCalls, f.sendCalls
}
