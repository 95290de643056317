package websocket

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Broker carries encoded session events between processes.
type Broker interface {
	Publish(ctx context.Context, sessionID string, data []byte) error
	// Run hands every published event to deliver until ctx is done.
	Run(ctx context.Context, deliver func(sessionID string, data []byte)) error
}

const DefaultChannelPrefix = "chat:session:"

// RedisBroker fans events out over redis pub/sub, one channel per session.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func (b *RedisBroker) Publish(ctx context.Context, sessionID string, data []byte) error {
	if sessionID == "" {
		return fmt.Errorf("websocket publish: sessionID required")
	}
	if err := b.client.Publish(ctx, b.prefix+sessionID, data).Err(); err != nil {
		return fmt.Errorf("websocket publish: redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Run(ctx context.Context, deliver func(sessionID string, data []byte)) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("websocket subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sessionID := strings.TrimPrefix(msg.Channel, b.prefix)
			if sessionID == "" || sessionID == msg.Channel {
				continue
			}
			deliver(sessionID, []byte(msg.Payload))
		}
	}
}

// LocalBroker delivers in process. It serves single-process deployments and tests.
type LocalBroker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(string, []byte)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[int]func(string, []byte))}
}

func (b *LocalBroker) Publish(ctx context.Context, sessionID string, data []byte) error {
	if sessionID == "" {
		return fmt.Errorf("websocket publish: sessionID required")
	}
	b.mu.RLock()
	handlers := make([]func(string, []byte), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(sessionID, data)
	}
	return nil
}

func (b *LocalBroker) Run(ctx context.Context, deliver func(sessionID string, data []byte)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = deliver
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return nil
}
