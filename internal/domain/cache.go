package domain

import (
	"context"
	"time"
)

// QuoteStore holds the latest quote per (exchange, symbol). It is written by
// the quote feed and read by the scanner.
type QuoteStore interface {
	Put(ctx context.Context, q ExchangeQuote) error
	ListBySymbol(ctx context.Context, symbol string) ([]ExchangeQuote, error)
	Symbols(ctx context.Context) ([]string, error)
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
