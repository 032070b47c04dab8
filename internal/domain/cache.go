package domain

import (
	"context"
	"time"
)

// Lease is a held lock that must be refreshed before its TTL lapses.
type Lease interface {
	Refresh(ctx context.Context) error
	Release()
}

// LeaseManager hands out refreshable single-writer leases.
type LeaseManager interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Channels and streams used for vault events.
const (
	ChannelVaultEvents = "vault:events"
	StreamVaultEvents  = "stream:vault:events"
	LeaseVaultWriter   = "lease:vault:writer"
)

// RateLimiter provides sliding-window request limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
