package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists ledger positions. The engine working set is
// authoritative at runtime; the store is loaded once at startup and written
// behind on every mutation.
type PositionStore interface {
	Insert(ctx context.Context, pos Position) error
	UpdateClose(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id int64) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]Position, error)
	MaxID(ctx context.Context) (int64, error)
}

// AccountStore persists the virtual margin account row.
type AccountStore interface {
	Get(ctx context.Context, userID string) (Account, error)
	Upsert(ctx context.Context, acct Account) error
}

// AuditEntry is a single operation-journal row.
type AuditEntry struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only journal of ledger and feed operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
