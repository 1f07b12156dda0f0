package operation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// TransferInResult confirms USDT is on the acquire venue. Amount may be below
// the invested amount when a network fee was charged on the way in.
type TransferInResult struct {
	TransactionID string
	Amount        decimal.Decimal
}

// AcquireResult is a filled buy. GrossAmount is in the base asset, Fee in USDT.
type AcquireResult struct {
	TransactionID string
	Price         float64
	GrossAmount   decimal.Decimal
	Fee           decimal.Decimal
}

// TransferAssetResult is a completed withdrawal of the base asset. Fee and
// amounts are in the base asset. A zero AmountReceived means sent minus fee.
type TransferAssetResult struct {
	TransactionID  string
	Network        string
	Fee            decimal.Decimal
	AmountSent     decimal.Decimal
	AmountReceived decimal.Decimal
}

// DisposeResult is a filled sell. GrossProceeds and Fee are in USDT.
type DisposeResult struct {
	TransactionID string
	Price         float64
	AmountSold    decimal.Decimal
	GrossProceeds decimal.Decimal
	Fee           decimal.Decimal
}

// LegExecutor performs legs against one execution environment.
type LegExecutor interface {
	TransferIn(ctx context.Context, op domain.Operation) (TransferInResult, error)
	Acquire(ctx context.Context, op domain.Operation) (AcquireResult, error)
	TransferAsset(ctx context.Context, op domain.Operation) (TransferAssetResult, error)
	Dispose(ctx context.Context, op domain.Operation) (DisposeResult, error)
}

// Observer is told about every persisted transition.
type Observer interface {
	OperationUpdated(ctx context.Context, op domain.Operation, hint string)
}

// InitiateRequest opens a new operation.
type InitiateRequest struct {
	Mode                 domain.Mode
	Symbol               string
	AcquireExchange      string
	DisposeExchange      string
	ExpectedAcquirePrice float64
	ExpectedDisposePrice float64
	InvestedAmount       decimal.Decimal
	AIConfidence         *float64
}

// FromAnalysis builds a request that trades the given opportunity.
func FromAnalysis(a domain.Analysis, mode domain.Mode, invested decimal.Decimal) InitiateRequest {
	return InitiateRequest{
		Mode:                 mode,
		Symbol:               a.Symbol,
		AcquireExchange:      a.AcquireExchange,
		DisposeExchange:      a.DisposeExchange,
		ExpectedAcquirePrice: a.AcquirePrice,
		ExpectedDisposePrice: a.DisposePrice,
		InvestedAmount:       invested,
	}
}

func (r InitiateRequest) Validate() error {
	switch {
	case !r.Mode.Valid():
		return domain.Invalid("mode", "unknown mode "+string(r.Mode))
	case r.Symbol == "":
		return domain.Invalid("symbol", "required")
	case r.AcquireExchange == "":
		return domain.Invalid("acquire_exchange", "required")
	case r.DisposeExchange == "":
		return domain.Invalid("dispose_exchange", "required")
	case !r.InvestedAmount.IsPositive():
		return domain.Invalid("invested_amount", "must be positive")
	case r.ExpectedAcquirePrice < 0 || r.ExpectedDisposePrice < 0:
		return domain.Invalid("expected_price", "must not be negative")
	case r.AIConfidence != nil && (*r.AIConfidence < 0 || *r.AIConfidence > 1):
		return domain.Invalid("ai_confidence", "must be within [0, 1]")
	}
	if _, quote := domain.SplitSymbol(r.Symbol); quote == "" {
		return domain.Invalid("symbol", "expected BASE/QUOTE")
	}
	return nil
}
