package domain

import "context"

// Channel is an ingress/delivery surface (Messenger, Telegram, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Deliverer
}
