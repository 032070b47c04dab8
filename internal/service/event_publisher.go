// Package service holds the glue between the vault and shared
// infrastructure: fan-out of committed events and read-side queries.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// EventPublisher fans committed vault events out to Redis: pub/sub for live
// listeners and the durable stream for consumers that resume by ID.
type EventPublisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(bus domain.SignalBus, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "event_publisher")),
	}
}

// Publish writes every event to the stream and the live channel. The stream
// append is authoritative; a pub/sub failure is logged and skipped.
func (p *EventPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("event_publisher: marshal event %d: %w", e.Seq, err)
		}
		if err := p.bus.StreamAppend(ctx, domain.StreamVaultEvents, payload); err != nil {
			return fmt.Errorf("event_publisher: stream append %d: %w", e.Seq, err)
		}
		if pubErr := p.bus.Publish(ctx, domain.ChannelVaultEvents, payload); pubErr != nil {
			p.logger.WarnContext(ctx, "event_publisher: publish failed",
				slog.Uint64("seq", e.Seq),
				slog.String("kind", string(e.Kind)),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	return nil
}
