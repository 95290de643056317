package chat

import (
	"sync"

	"chat-sync/internal/dto"
)

// PresenceTracker holds the one actor currently typing in a session.
type PresenceTracker struct {
	mu      sync.RWMutex
	actorID string
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{}
}

func (p *PresenceTracker) SetTyping(actorID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actorID = actorID
}

func (p *PresenceTracker) ClearTyping() {
	p.SetTyping("")
}

func (p *PresenceTracker) Apply(ev dto.TypingEvent) {
	if ev.Typing {
		p.SetTyping(ev.ActorID)
		return
	}
	p.ClearTyping()
}

func (p *PresenceTracker) Typing() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.actorID, p.actorID != ""
}
