package domain

import (
	"context"
	"time"
)

// Well-known signal bus channels and streams.
const (
	ChannelTrades    = "clearwin:trades"
	ChannelPositions = "clearwin:positions"
	ChannelCycles    = "clearwin:cycles"
	StreamTrades     = "clearwin:stream:trades"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// IdempotencyStore records claimed idempotency keys so that a submission
// cannot be repeated, even across process restarts.
type IdempotencyStore interface {
	// Claim returns true when the key was not previously claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Complete stores the terminal result payload for a claimed key.
	Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Result returns the stored payload, or ErrNotFound while the claim is
	// still in flight.
	Result(ctx context.Context, key string) ([]byte, error)
}
