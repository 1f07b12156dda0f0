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

// AnalysisStore persists the latest Analysis per symbol.
type AnalysisStore interface {
	Upsert(ctx context.Context, a Analysis) error
	Get(ctx context.Context, symbol string) (Analysis, error)
	ListTop(ctx context.Context, limit int) ([]Analysis, error)
	ListBefore(ctx context.Context, before time.Time) ([]Analysis, error)
}

// OperationStore persists operations. Update overwrites the whole row.
type OperationStore interface {
	Create(ctx context.Context, op Operation) error
	Update(ctx context.Context, op Operation) error
	GetByID(ctx context.Context, id string) (Operation, error)
	List(ctx context.Context, filter OperationFilter, opts ListOpts) ([]Operation, error)
}

// BalanceStore persists ledger entries. Apply must be atomic per entry:
// a reserve either fully succeeds or leaves the entry untouched.
type BalanceStore interface {
	Apply(ctx context.Context, m BalanceMutation) (BalanceEntry, error)
	Get(ctx context.Context, mode Mode, exchangeID string) (BalanceEntry, error)
	List(ctx context.Context, mode Mode) ([]BalanceEntry, error)
	SetPrimary(ctx context.Context, mode Mode, exchangeID string) error
	Deactivate(ctx context.Context, mode Mode, exchangeID string) error
}

// AuditEntry is one row in the audit log.
type AuditEntry struct {
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records an append-only trail of state changes.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
