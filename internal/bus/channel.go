// Package bus carries riskgate's assessment lifecycle events between the
// pipeline, the admission gate, the review workflow, and the async worker.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/formationhq/riskgate/internal/domain"
)

// ChannelBus is the Community tier event bus: in-process fan-out over Go
// channels. Subscriptions are keyed by topic; a subscriber under
// domain.GlobalSubscriber receives every tenant's messages on its topic,
// which is how a single async worker drains order.submitted across tenants.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	byTopic    map[string][]*channelSubscription
	closed     bool

	dropped int64
}

type channelSubscription struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	msgCh    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates a channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		byTopic:    make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to the topic's tenant-matched and global
// subscribers. Delivery is non-blocking: a subscriber whose buffer is full
// misses the message.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" || tenantID == domain.GlobalSubscriber {
		return fmt.Errorf("a concrete tenantID is required to publish")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	subs := b.byTopic[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.tenantID != tenantID && sub.tenantID != domain.GlobalSubscriber {
			continue
		}
		if sub.ctx.Err() != nil {
			// Unsubscribed but not yet reaped.
			continue
		}
		select {
		case sub.msgCh <- msg:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			slog.Warn("event dropped, subscriber buffer full",
				"topic", topic,
				"tenant_id", tenantID,
				"subscriber", sub.tenantID,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic, scoped to one tenant or to
// domain.GlobalSubscriber for all tenants.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		msgCh:    make(chan *domain.Message, b.bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
	}

	go sub.run()

	b.byTopic[topic] = append(b.byTopic[topic], sub)

	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if msg != nil {
				if err := s.handler(s.ctx, msg); err != nil {
					slog.Error("event handler failed",
						"topic", s.topic,
						"message_id", msg.ID,
						"error", err,
					)
				}
			}
		}
	}
}

// Dropped returns how many messages were lost to full subscriber buffers.
func (b *ChannelBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels all subscriptions and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.byTopic {
		for _, sub := range subs {
			sub.cancel()
			close(sub.msgCh)
		}
	}
	b.byTopic = make(map[string][]*channelSubscription)
	return nil
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
