// Package ledger tracks per-exchange, per-mode capital with reservation
// semantics. Mutations against one (mode, exchange) entry are serialized.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/keymutex"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Ledger wraps a BalanceStore. Audit is optional.
type Ledger struct {
	store  domain.BalanceStore
	audit  domain.AuditStore
	locks  *keymutex.Map
	logger *slog.Logger
}

func New(store domain.BalanceStore, audit domain.AuditStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		audit:  audit,
		locks:  keymutex.New(),
		logger: logger.With(slog.String("component", "ledger")),
	}
}

func (l *Ledger) apply(ctx context.Context, m domain.BalanceMutation) (domain.BalanceEntry, error) {
	unlock := l.locks.Lock(string(m.Mode) + "|" + m.ExchangeID)
	defer unlock()

	entry, err := l.store.Apply(ctx, m)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			metrics.ReservationDenied.WithLabelValues(string(m.Mode), m.ExchangeID).Inc()
			l.logger.InfoContext(ctx, "reservation denied",
				slog.String("mode", string(m.Mode)),
				slog.String("exchange", m.ExchangeID),
				slog.String("amount", m.Amount.String()),
			)
			return domain.BalanceEntry{}, fmt.Errorf("ledger: reserve %s on %s/%s: %w", m.Amount, m.Mode, m.ExchangeID, domain.ErrInsufficientBalance)
		}
		return domain.BalanceEntry{}, fmt.Errorf("ledger: %s on %s/%s: %w", m.Kind, m.Mode, m.ExchangeID, err)
	}

	metrics.ProfitLoss.WithLabelValues(string(m.Mode), m.ExchangeID).Set(entry.TotalProfitLoss.InexactFloat64())
	l.logger.DebugContext(ctx, "ledger mutation applied",
		slog.String("kind", string(m.Kind)),
		slog.String("mode", string(m.Mode)),
		slog.String("exchange", m.ExchangeID),
		slog.String("amount", m.Amount.String()),
		slog.String("usdt", entry.USDTBalance.String()),
		slog.String("reserved", entry.ReservedBalance.String()),
	)
	if l.audit != nil {
		detail := map[string]any{
			"mode":     string(m.Mode),
			"exchange": m.ExchangeID,
			"amount":   m.Amount.String(),
			"ref":      m.Ref,
			"usdt":     entry.USDTBalance.String(),
			"reserved": entry.ReservedBalance.String(),
		}
		if m.Asset != "" {
			detail["asset"] = m.Asset
		}
		if err := l.audit.Log(ctx, "ledger."+string(m.Kind), detail); err != nil {
			l.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return entry, nil
}

// Fund credits amount to the entry, creating it when missing. The first entry
// funded in a mode becomes that mode's primary.
func (l *Ledger) Fund(ctx context.Context, mode domain.Mode, exchangeID string, amount decimal.Decimal) (domain.BalanceEntry, error) {
	return l.apply(ctx, domain.BalanceMutation{Mode: mode, ExchangeID: exchangeID, Kind: domain.MutationFund, Amount: amount})
}

// Seed funds the entry once per ref. Restarting with the same ref is a no-op,
// so startup funding from configuration never double-counts.
func (l *Ledger) Seed(ctx context.Context, mode domain.Mode, exchangeID string, amount decimal.Decimal, ref string) (domain.BalanceEntry, error) {
	return l.apply(ctx, domain.BalanceMutation{Mode: mode, ExchangeID: exchangeID, Kind: domain.MutationFund, Amount: amount, Ref: ref})
}

// Reserve moves amount from available to reserved or fails with ErrInsufficientBalance.
func (l *Ledger) Reserve(ctx context.Context, mode domain.Mode, exchangeID string, amount decimal.Decimal, ref string) (domain.BalanceEntry, error) {
	return l.apply(ctx, domain.BalanceMutation{Mode: mode, ExchangeID: exchangeID, Kind: domain.MutationReserve, Amount: amount, Ref: ref})
}

// Release returns a reservation to the available balance.
func (l *Ledger) Release(ctx context.Context, mode domain.Mode, exchangeID string, amount decimal.Decimal, ref string) (domain.BalanceEntry, error) {
	return l.apply(ctx, domain.BalanceMutation{Mode: mode, ExchangeID: exchangeID, Kind: domain.MutationRelease, Amount: amount, Ref: ref})
}

// Consume drops a reservation whose funds were spent.
func (l *Ledger) Consume(ctx context.Context, mode domain.Mode, exchangeID string, amount decimal.Decimal, ref string) (domain.BalanceEntry, error) {
	return l.apply(ctx, domain.BalanceMutation{Mode: mode, ExchangeID: exchangeID, Kind: domain.MutationConsume, Amount: amount, Ref: ref})
}

// Credit adds proceeds to the available balance and books one operation's result.
func (l *Ledger) Credit(ctx context.Context, mode domain.Mode, exchangeID string, amount, profitLoss decimal.Decimal, ref string) (domain.BalanceEntry, error) {
	return l.apply(ctx, domain.BalanceMutation{
		Mode: mode, ExchangeID: exchangeID, Kind: domain.MutationCredit,
		Amount: amount, ProfitLoss: profitLoss, Ref: ref,
	})
}

// AdjustAsset changes an auxiliary asset holding by delta.
func (l *Ledger) AdjustAsset(ctx context.Context, mode domain.Mode, exchangeID, asset string, delta decimal.Decimal, ref string) (domain.BalanceEntry, error) {
	return l.apply(ctx, domain.BalanceMutation{
		Mode: mode, ExchangeID: exchangeID, Kind: domain.MutationAsset,
		Asset: asset, Amount: delta, Ref: ref,
	})
}

func (l *Ledger) Get(ctx context.Context, mode domain.Mode, exchangeID string) (domain.BalanceEntry, error) {
	e, err := l.store.Get(ctx, mode, exchangeID)
	if err != nil {
		return domain.BalanceEntry{}, fmt.Errorf("ledger: get %s/%s: %w", mode, exchangeID, err)
	}
	return e, nil
}

func (l *Ledger) List(ctx context.Context, mode domain.Mode) ([]domain.BalanceEntry, error) {
	entries, err := l.store.List(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("ledger: list %s: %w", mode, err)
	}
	return entries, nil
}

// Primary returns the mode's primary entry.
func (l *Ledger) Primary(ctx context.Context, mode domain.Mode) (domain.BalanceEntry, error) {
	entries, err := l.List(ctx, mode)
	if err != nil {
		return domain.BalanceEntry{}, err
	}
	for _, e := range entries {
		if e.IsPrimary {
			return e, nil
		}
	}
	return domain.BalanceEntry{}, fmt.Errorf("ledger: primary for %s: %w", mode, domain.ErrNotFound)
}

func (l *Ledger) SetPrimary(ctx context.Context, mode domain.Mode, exchangeID string) error {
	if err := l.store.SetPrimary(ctx, mode, exchangeID); err != nil {
		return fmt.Errorf("ledger: set primary %s/%s: %w", mode, exchangeID, err)
	}
	l.logger.InfoContext(ctx, "primary exchange changed", slog.String("mode", string(mode)), slog.String("exchange", exchangeID))
	return nil
}

// Deactivate soft-deletes the entry. Inactive entries reject new reservations.
func (l *Ledger) Deactivate(ctx context.Context, mode domain.Mode, exchangeID string) error {
	unlock := l.locks.Lock(string(mode) + "|" + exchangeID)
	defer unlock()
	if err := l.store.Deactivate(ctx, mode, exchangeID); err != nil {
		return fmt.Errorf("ledger: deactivate %s/%s: %w", mode, exchangeID, err)
	}
	return nil
}
