// Package memory contains an in-memory run notification publisher used when
// Pub/Sub is not configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	logger   *zap.Logger
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	id := fmt.Sprintf("memory-%d", len(p.messages))
	p.mu.Unlock()

	p.logger.Debug("notification recorded", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
