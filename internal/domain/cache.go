package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest quoted market prices.
// Prices are decimal strings to preserve full 256-bit precision.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID uint64, price string, ts time.Time) error
	GetPrice(ctx context.Context, marketID uint64) (string, time.Time, error)
	Invalidate(ctx context.Context, marketID uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for depository events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
