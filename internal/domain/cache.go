package domain

import (
	"context"
	"math/big"
	"time"
)

// QuoteRate is the last real in/out pair observed for a token pair.
type QuoteRate struct {
	InAmount  *big.Int
	OutAmount *big.Int
	At        time.Time
}

// QuoteCache remembers recent real quote rates.
type QuoteCache interface {
	SetRate(ctx context.Context, inputMint, outputMint string, rate QuoteRate) error
	GetRate(ctx context.Context, inputMint, outputMint string) (QuoteRate, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
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
