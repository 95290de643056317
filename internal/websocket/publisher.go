package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"chat-sync/internal/dto"
)

// Publisher encodes session events as channel envelopes and hands them to a
// Broker. It satisfies the session service's publisher.
type Publisher struct {
	broker Broker
}

func NewPublisher(broker Broker) *Publisher {
	return &Publisher{broker: broker}
}

func (p *Publisher) Publish(ctx context.Context, sessionID, event string, payload interface{}) error {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, sessionID, data)
}

func encodeEnvelope(event string, payload interface{}) ([]byte, error) {
	env, err := dto.NewEnvelope(event, payload)
	if err != nil {
		return nil, fmt.Errorf("websocket publish: marshal payload: %w", err)
	}
	return json.Marshal(env)
}
