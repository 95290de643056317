package chat

import (
	"sort"

	"chat-sync/internal/model"
)

// MessageStore is the ordered, de-duplicated timeline of one session.
// It is not safe for concurrent use; controllers guard it with their lock.
type MessageStore struct {
	messages []model.ChatMessage
	ids      map[string]struct{}
	hasMore  bool
}

func NewMessageStore() *MessageStore {
	return &MessageStore{ids: make(map[string]struct{})}
}

// Seed replaces the timeline with the newest page of a freshly joined session.
func (s *MessageStore) Seed(initial []model.ChatMessage, final bool) {
	s.messages = make([]model.ChatMessage, 0, len(initial))
	s.ids = make(map[string]struct{}, len(initial))
	for _, m := range initial {
		s.insert(m)
	}
	s.hasMore = len(s.messages) > 0 && !final
}

// AppendLive inserts a message received live or returned by a send. It
// reports false when the id is already present.
func (s *MessageStore) AppendLive(m model.ChatMessage) bool {
	return s.insert(m)
}

// PrependHistory merges an older page and returns how many messages were new.
// A page that adds nothing exhausts the history.
func (s *MessageStore) PrependHistory(older []model.ChatMessage) int {
	added := 0
	for _, m := range older {
		if s.insert(m) {
			added++
		}
	}
	if added == 0 {
		s.hasMore = false
	}
	return added
}

// MergeReaction replaces the reaction set of a loaded message.
func (s *MessageStore) MergeReaction(messageID string, reactions []model.Reaction) bool {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == messageID {
			s.messages[i].Reactions = model.NormalizeReactions(reactions)
			return true
		}
	}
	return false
}

// Rebase keeps only loaded messages that are not older than the oldest of
// newest, then merges newest in. It is used when a catch-up could not reach
// the loaded timeline, so the cursor never points below a gap.
func (s *MessageStore) Rebase(newest []model.ChatMessage, final bool) {
	if len(newest) == 0 {
		return
	}
	oldest := newest[0]
	for _, m := range newest[1:] {
		if model.Less(m, oldest) {
			oldest = m
		}
	}
	kept := make([]model.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if !model.Less(m, oldest) {
			kept = append(kept, m)
		}
	}
	s.Seed(newest, final)
	for _, m := range kept {
		s.insert(m)
	}
}

// Contains reports whether id is loaded.
func (s *MessageStore) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *MessageStore) MarkExhausted() {
	s.hasMore = false
}

// Messages returns a copy of the timeline in ascending order.
func (s *MessageStore) Messages() []model.ChatMessage {
	out := make([]model.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStore) Get(id string) (model.ChatMessage, bool) {
	if _, ok := s.ids[id]; !ok {
		return model.ChatMessage{}, false
	}
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return model.ChatMessage{}, false
}

func (s *MessageStore) Len() int {
	return len(s.messages)
}

// Cursor is the id of the oldest loaded message, used to page backwards.
func (s *MessageStore) Cursor() string {
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[0].ID
}

func (s *MessageStore) HasMore() bool {
	return s.hasMore
}

func (s *MessageStore) insert(m model.ChatMessage) bool {
	if m.ID == "" {
		return false
	}
	if _, ok := s.ids[m.ID]; ok {
		return false
	}
	m.Reactions = model.NormalizeReactions(m.Reactions)
	s.ids[m.ID] = struct{}{}

	n := len(s.messages)
	if n == 0 || model.Less(s.messages[n-1], m) {
		s.messages = append(s.messages, m)
		return true
	}
	i := sort.Search(n, func(i int) bool { return model.Less(m, s.messages[i]) })
	s.messages = append(s.messages, model.ChatMessage{})
	copy(s.messages[i+1:], s.messages[i:n])
	s.messages[i] = m
	return true
}
