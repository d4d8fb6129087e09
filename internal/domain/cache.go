package domain

import (
	"context"
	"time"
)

// LockManager hands out short-lived exclusive locks. Pool mutations hold
// one per pool so that replicas sharing Redis serialize on the same key.
type LockManager interface {
	// Acquire fails with ErrLockHeld if key is taken. The returned func
	// releases the lock; it is safe to call after the TTL has lapsed.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one stream entry: its server-assigned id and the raw
// websocket envelope that was appended.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries live updates between replicas (Publish/Subscribe) and
// keeps a bounded replay log of pool events (StreamAppend/StreamRead).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter counts hits per key in a sliding window and reports whether
// one more is within limit.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NonceStore remembers keys for a bounded time. Claim reports true the
// first time key is seen within ttl and false on every repeat.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
