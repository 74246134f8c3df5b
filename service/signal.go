package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/google/uuid"
)

// RaiseInvalidation tells every subscriber that the cached session was rejected.
// Callers that get an authorization failure from the backend use it to bring
// the link dialog back.
func RaiseInvalidation(ctx context.Context, bus ports.SignalBus, reason string) error {
	return publishEvent(ctx, bus, core.Event{
		Topic:  core.TopicSessionInvalidated,
		Reason: reason,
	})
}

func publishEvent(ctx context.Context, bus ports.SignalBus, ev core.Event) error {
	ev.ID = uuid.NewString()
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return bus.Publish(ctx, ev.Topic, payload)
}

func decodeEvent(payload []byte) (core.Event, error) {
	var ev core.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return core.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
