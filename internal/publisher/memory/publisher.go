// Package memory contains the in-process publisher used by local
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultRetain bounds how many publishes are kept for inspection so a
// long-lived local run does not grow without limit.
const defaultRetain = 256

// Publisher records published payloads and logs them for local runs.
type Publisher struct {
	logger *zap.Logger
	retain int

	mu       sync.RWMutex
	seq      int
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic       string
	Payload     any
	PublishedAt time.Time
}

// New returns a memory Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		logger: logger,
		retain: defaultRetain,
	}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now(),
	})
	if len(p.messages) > p.retain {
		p.messages = p.messages[len(p.messages)-p.retain:]
	}
	p.mu.Unlock()

	p.logger.Debug("published summary",
		zap.String("topic", topic),
		zap.String("message_id", id),
	)
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Reset drops all retained messages.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
