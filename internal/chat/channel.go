package chat

import (
	"context"
	"encoding/json"
	"sync"
)

// Pseudo-events dispatched by a Channel when its connection state changes.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

type Handler func(data json.RawMessage)

type HandlerID uint64

// Channel is the bidirectional event transport. Handlers may be invoked from
// any goroutine owned by the implementation, but never while the
// implementation holds a lock that On or Off would take.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Emit(ctx context.Context, event string, payload interface{}) error
	On(event string, h Handler) HandlerID
	// Off removes the given handlers, or every handler of event when no ids are passed.
	Off(event string, ids ...HandlerID)
}

// SharedChannel reference counts a process-wide Channel: the first holder
// connects it and the last one to release disconnects it.
type SharedChannel struct {
	ch   Channel
	mu   sync.Mutex
	refs int
}

func NewSharedChannel(ch Channel) *SharedChannel {
	return &SharedChannel{ch: ch}
}

func (s *SharedChannel) Channel() Channel {
	return s.ch
}

func (s *SharedChannel) Connected() bool {
	return s.ch.Connected()
}

func (s *SharedChannel) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ch.Connected() {
		if err := s.ch.Connect(ctx); err != nil {
			return NewError(ErrorCodeConnectivity, "connect channel", err)
		}
	}
	s.refs++
	return nil
}

// Ensure reconnects a held channel that was disconnected without its holders.
func (s *SharedChannel) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch.Connected() {
		return nil
	}
	if err := s.ch.Connect(ctx); err != nil {
		return NewError(ErrorCodeConnectivity, "reconnect channel", err)
	}
	return nil
}

func (s *SharedChannel) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 {
		_ = s.ch.Disconnect()
	}
}

func (s *SharedChannel) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Subscription owns a set of handlers on a Channel and removes all of them on
// Release. Release is idempotent.
type Subscription struct {
	ch       Channel
	mu       sync.Mutex
	ids      map[string][]HandlerID
	released bool
}

func Subscribe(ch Channel) *Subscription {
	return &Subscription{
		ch:  ch,
		ids: make(map[string][]HandlerID),
	}
}

func (s *Subscription) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.ids[event] = append(s.ids[event], s.ch.On(event, h))
}

func (s *Subscription) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.released = true
	for event, ids := range s.ids {
		if len(ids) > 0 {
			s.ch.Off(event, ids...)
		}
	}
	s.ids = nil
}
