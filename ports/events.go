package ports

import "context"

// Handler receives the payload of a bus message
type Handler func(ctx context.Context, payload []byte) error

// SignalBus is a one-to-many notification channel keyed by topic
type SignalBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers messages to handler until ctx is done
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
