package domain

import (
	"context"
	"time"
)

// ValuationMirror is a shared, read-optimized copy of the in-process valuation
// cache. The engine remains authoritative; the mirror is written best-effort
// after each applied batch so out-of-process consumers can read last prices
// without touching the core.
type ValuationMirror interface {
	SetBatch(ctx context.Context, vals map[uint32]Valuation) error
	Get(ctx context.Context, token uint32) (Valuation, error)
	GetAll(ctx context.Context) (map[uint32]Valuation, error)
}

// EventBus provides pub/sub fan-out for snapshots and ledger events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting for the HTTP API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The feed holds a leader lock so at
// most one process owns the ticker connection.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
