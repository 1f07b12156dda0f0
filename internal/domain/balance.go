package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceEntry is the simulated or tracked capital held on one exchange in one mode.
type BalanceEntry struct {
	Mode            Mode
	ExchangeID      string
	USDTBalance     decimal.Decimal
	ReservedBalance decimal.Decimal
	TotalProfitLoss decimal.Decimal
	TotalOperations int64
	Assets          map[string]decimal.Decimal
	IsActive        bool
	IsPrimary       bool
	UpdatedAt       time.Time
}

// TotalBalance is available plus reserved USDT.
func (b BalanceEntry) TotalBalance() decimal.Decimal {
	return b.USDTBalance.Add(b.ReservedBalance)
}

// MutationKind names one atomic ledger change.
type MutationKind string

const (
	MutationFund    MutationKind = "fund"
	MutationReserve MutationKind = "reserve"
	MutationRelease MutationKind = "release"
	MutationConsume MutationKind = "consume"
	MutationCredit  MutationKind = "credit"
	MutationAsset   MutationKind = "asset"
)

// BalanceMutation is applied atomically by a BalanceStore. A non-empty Ref is
// an idempotency key: a mutation whose Ref was already applied is a no-op.
type BalanceMutation struct {
	Mode       Mode
	ExchangeID string
	Kind       MutationKind
	Amount     decimal.Decimal
	ProfitLoss decimal.Decimal
	Asset      string
	Ref        string
}

// CreatesEntry reports whether the mutation may create a missing entry.
func (k MutationKind) CreatesEntry() bool {
	return k == MutationFund || k == MutationCredit || k == MutationAsset
}

// Validate checks the mutation's shape before it touches a store.
func (m BalanceMutation) Validate() error {
	if !m.Mode.Valid() {
		return Invalid("mode", "unknown mode "+string(m.Mode))
	}
	if m.ExchangeID == "" {
		return Invalid("exchange_id", "required")
	}
	switch m.Kind {
	case MutationFund, MutationReserve, MutationRelease, MutationConsume:
		if !m.Amount.IsPositive() {
			return Invalid("amount", "must be positive")
		}
	case MutationCredit:
		if m.Amount.IsNegative() {
			return Invalid("amount", "must not be negative")
		}
	case MutationAsset:
		if m.Asset == "" {
			return Invalid("asset", "required")
		}
	default:
		return Invalid("kind", "unknown mutation "+string(m.Kind))
	}
	return nil
}

// NewBalanceEntry is the zero entry created lazily on first funding.
func NewBalanceEntry(mode Mode, exchangeID string) BalanceEntry {
	return BalanceEntry{
		Mode:       mode,
		ExchangeID: exchangeID,
		Assets:     map[string]decimal.Decimal{},
		IsActive:   true,
	}
}

// Apply returns the entry after m. The receiver is not modified. Reserve fails
// with ErrInsufficientBalance when the available balance is short or the entry
// is inactive; release and consume fail with ErrReservationMismatch when less
// than the amount is reserved. Asset balances are clamped at zero.
func (b BalanceEntry) Apply(m BalanceMutation) (BalanceEntry, error) {
	out := b
	out.Assets = make(map[string]decimal.Decimal, len(b.Assets))
	for k, v := range b.Assets {
		out.Assets[k] = v
	}

	switch m.Kind {
	case MutationFund:
		out.USDTBalance = out.USDTBalance.Add(m.Amount)
	case MutationReserve:
		if !b.IsActive || b.USDTBalance.LessThan(m.Amount) {
			return b, ErrInsufficientBalance
		}
		out.USDTBalance = out.USDTBalance.Sub(m.Amount)
		out.ReservedBalance = out.ReservedBalance.Add(m.Amount)
	case MutationRelease:
		if b.ReservedBalance.LessThan(m.Amount) {
			return b, ErrReservationMismatch
		}
		out.ReservedBalance = out.ReservedBalance.Sub(m.Amount)
		out.USDTBalance = out.USDTBalance.Add(m.Amount)
	case MutationConsume:
		if b.ReservedBalance.LessThan(m.Amount) {
			return b, ErrReservationMismatch
		}
		out.ReservedBalance = out.ReservedBalance.Sub(m.Amount)
	case MutationCredit:
		out.USDTBalance = out.USDTBalance.Add(m.Amount)
		out.TotalProfitLoss = out.TotalProfitLoss.Add(m.ProfitLoss)
		out.TotalOperations++
	case MutationAsset:
		next := out.Assets[m.Asset].Add(m.Amount)
		if next.IsPositive() {
			out.Assets[m.Asset] = next
		} else {
			delete(out.Assets, m.Asset)
		}
	default:
		return b, Invalid("kind", "unknown mutation "+string(m.Kind))
	}
	return out, nil
}
