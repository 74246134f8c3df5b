package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// WatermillBus implements the SignalBus interface on top of a Watermill pub/sub pair
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

// NewWatermillBus wraps an existing publisher and subscriber
func NewWatermillBus(publisher message.Publisher, subscriber message.Subscriber, logger *slog.Logger) *WatermillBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatermillBus{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
	}
}

// NewGoChannelBus creates an in-process bus. Publish returns only after every
// subscriber has handled the message.
func NewGoChannelBus(logger *slog.Logger) *WatermillBus {
	if logger == nil {
		logger = slog.Default()
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewSlogLogger(logger))
	return NewWatermillBus(ch, ch, logger)
}

// NewRedisStreamBus creates a bus backed by Redis streams. Delivery is asynchronous.
func NewRedisStreamBus(client redis.UniversalClient, consumerGroup string, logger *slog.Logger) (*WatermillBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wmLogger := watermill.NewSlogLogger(logger)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: consumerGroup,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream subscriber: %w", err)
	}

	return NewWatermillBus(publisher, subscriber, logger), nil
}

var _ ports.SignalBus = (*WatermillBus)(nil)

// Publish sends payload to every subscriber of topic
func (b *WatermillBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts delivering messages on topic to handler until ctx is done.
// Messages are always acked; handler errors are logged.
func (b *WatermillBus) Subscribe(ctx context.Context, topic string, handler ports.Handler) error {
	messages, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			if err := handler(ctx, msg.Payload); err != nil {
				b.logger.Warn("signal handler failed", "topic", topic, "message_id", msg.UUID, "error", err)
			}
			msg.Ack()
		}
	}()

	return nil
}

// Close shuts down the publisher and subscriber
func (b *WatermillBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	if any(b.subscriber) == any(b.publisher) {
		return nil
	}
	return b.subscriber.Close()
}
