package domain

import "context"

// MessageBus carries inbound events from channels to the dispatcher and
// routes outbound payloads to the channel that owns the recipient.
type MessageBus interface {
	Publish(msg InboundMessage) bool
	// TryPublish enqueues without waiting; webhook handlers use it so the
	// platform gets its acknowledgement immediately.
	TryPublish(msg InboundMessage) bool
	Subscribe() <-chan InboundMessage
	Deliver(ctx context.Context, msg OutboundMessage) error
	OnOutbound(channelName string, d Deliverer)
	Close()
}
