package session

import (
	"context"
	"sort"
	"sync"

	"chat-sync/internal/model"
)

type MemoryRepository struct {
	mu        sync.Mutex
	sessions  map[string]model.SessionItem
	customers map[string]model.CustomerSessionItem
	messages  map[string][]model.MessageItem
}

// NewMemoryRepository returns a process-local Repository with the same
// conditional semantics as the DynamoDB one.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:  make(map[string]model.SessionItem),
		customers: make(map[string]model.CustomerSessionItem),
		messages:  make(map[string][]model.MessageItem),
	}
}

func (m *MemoryRepository) GetSession(ctx context.Context, sessionID string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, ErrNotFound
	}
	return session, nil
}

func (m *MemoryRepository) CreateSession(ctx context.Context, session model.SessionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.SessionID]; ok {
		return ErrConflict
	}
	m.sessions[session.SessionID] = session
	return nil
}

func (m *MemoryRepository) GetCustomerSession(ctx context.Context, customerID string) (model.CustomerSessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pointer, ok := m.customers[customerID]
	if !ok {
		return model.CustomerSessionItem{}, ErrNotFound
	}
	return pointer, nil
}

func (m *MemoryRepository) SetCustomerSession(ctx context.Context, pointer model.CustomerSessionItem, expected string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.customers[pointer.CustomerID]
	if (expected == "" && ok) || (expected != "" && (!ok || current.CurrentSessionID != expected)) {
		return ErrConflict
	}
	m.customers[pointer.CustomerID] = pointer
	return nil
}

func (m *MemoryRepository) ClaimSession(ctx context.Context, sessionID, operatorID, updatedAt string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || (session.OperatorID != "" && session.OperatorID != operatorID) {
		return model.SessionItem{}, ErrConflict
	}
	session.OperatorID = operatorID
	session.Status = model.SessionStatusOpen
	session.UpdatedAt = updatedAt
	m.sessions[sessionID] = session
	return session, nil
}

func (m *MemoryRepository) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus, updatedAt string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, ErrNotFound
	}
	session.Status = status
	session.UpdatedAt = updatedAt
	m.sessions[sessionID] = session
	return session, nil
}

func (m *MemoryRepository) UpdateSessionActivity(ctx context.Context, sessionID, lastMessageAt, preview string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.LastMessageAt = lastMessageAt
	session.UpdatedAt = lastMessageAt
	session.LastMessagePreview = preview
	m.sessions[sessionID] = session
	return nil
}

func (m *MemoryRepository) ListOpenSessions(ctx context.Context) ([]model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]model.SessionItem, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Status != model.SessionStatusClosed {
			items = append(items, s)
		}
	}
	return items, nil
}

func (m *MemoryRepository) CreateMessage(ctx context.Context, message model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[message.SessionID] = append(m.messages[message.SessionID], message)
	return nil
}

func (m *MemoryRepository) GetMessage(ctx context.Context, sessionID, messageID string) (model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[sessionID] {
		if msg.MessageID == messageID {
			return msg, nil
		}
	}
	return model.MessageItem{}, ErrNotFound
}

func (m *MemoryRepository) ListMessages(ctx context.Context, sessionID, beforeSortKey string, limit int) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]model.MessageItem, 0)
	for _, msg := range m.messages[sessionID] {
		if beforeSortKey == "" || msg.SortKey < beforeSortKey {
			items = append(items, msg)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].SortKey < items[j].SortKey
	})
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

func (m *MemoryRepository) UpdateMessageReactions(ctx context.Context, sessionID, sortKey string, reactions []model.ReactionItem, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages[sessionID] {
		if msg.SortKey != sortKey {
			continue
		}
		if msg.ReactionsVersion != expectedVersion {
			return ErrConflict
		}
		m.messages[sessionID][i].Reactions = reactions
		m.messages[sessionID][i].ReactionsVersion = expectedVersion + 1
		return nil
	}
	return ErrNotFound
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*DynamoRepository)(nil)
)
