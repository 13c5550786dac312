package gateway

import (
	"context"
	"log/slog"

	"skyclaw/pkg/bus"
)

func observeBusEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger) {
	// Subscribe to a buffered event stream so intake and dispatch never block
	// on logging. The bus drops events for slow consumers rather than blocking.
	log = log.With("component", "bus.events")
	events, unsubscribe := messageBus.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				// Channel closes when unsubscribed or when the bus itself is closed.
				return
			}
			logBusEvent(log, event)
		}
	}
}

func logBusEvent(log *slog.Logger, event bus.Event) {
	// Keep a stable attribute set across event types so logs are easy to grep
	// and correlate by user and event identifiers.
	attrs := []any{
		"event_type", event.Type,
		"channel", event.Channel,
		"user_id", event.UserID,
		"event_id", event.EventID,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventDeliveryFailed:
		log.Error("Mailbox event", append(attrs, "error", event.Error)...)
	case bus.EventMessageReceived, bus.EventResponseDelivered:
		log.Info("Mailbox event", attrs...)
	default:
		log.Debug("Mailbox event", attrs...)
	}
}
