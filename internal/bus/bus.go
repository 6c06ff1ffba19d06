package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound    chan domain.InboundMessage
	deliverers map[string]domain.Deliverer
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	wait       time.Duration
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:    make(chan domain.InboundMessage, bufferSize),
		deliverers: make(map[string]domain.Deliverer),
		logger:     logger,
		wait:       publishTimeout,
	}
}

// Publish enqueues an inbound message. It blocks up to publishTimeout when the
// buffer is full and reports whether the message was accepted.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "event", msg.EventID)
		return false
	}

	select {
	case b.inbound <- msg:
		return true
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		b.logger.Info("message queued after wait", "channel", msg.Channel)
		return true
	case <-timer.C:
		metrics.EventsDropped.WithLabelValues(metrics.ResultQueueFull).Inc()
		b.logger.Error("message dropped: bus full",
			"channel", msg.Channel,
			"sender", msg.SenderID,
			"waited", b.wait,
		)
		return false
	}
}

// TryPublish enqueues an inbound message only if the buffer has room.
func (b *InMemoryBus) TryPublish(msg domain.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "event", msg.EventID)
		return false
	}

	select {
	case b.inbound <- msg:
		return true
	default:
		metrics.EventsDropped.WithLabelValues(metrics.ResultQueueFull).Inc()
		b.logger.Error("message dropped: bus full",
			"channel", msg.Channel,
			"sender", msg.SenderID,
		)
		return false
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Deliver hands an outbound message to the deliverer registered for its channel.
func (b *InMemoryBus) Deliver(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.RLock()
	d, ok := b.deliverers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no deliverer registered for channel %q", msg.Channel)
	}
	return d.Deliver(ctx, msg.RecipientID, msg.Payload)
}

func (b *InMemoryBus) OnOutbound(channelName string, d domain.Deliverer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverers[channelName] = d
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
