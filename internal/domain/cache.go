package domain

import (
	"context"
	"time"
)

// OrderbookCache mirrors the engine's depth view for external readers.
type OrderbookCache interface {
	SetDepth(ctx context.Context, venue string, pair Pair, depth Depth) error
	GetDepth(ctx context.Context, venue string, pair Pair) (Depth, error)
	GetBBO(ctx context.Context, venue string, pair Pair) (bestBid, bestAsk float64, err error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease if it is still owned by the holder.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
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
