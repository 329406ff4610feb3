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

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpen(ctx context.Context) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
	ListBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// ExecutionStore persists trade executions and their legs.
type ExecutionStore interface {
	Create(ctx context.Context, exec TradeExecution) error
	GetByID(ctx context.Context, id string) (TradeExecution, error)
	ListRecent(ctx context.Context, limit int) ([]TradeExecution, error)
	ListKeysSince(ctx context.Context, since time.Time) ([]string, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeExecution, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
