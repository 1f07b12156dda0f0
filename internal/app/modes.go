package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/event"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/operation"
)

// ScanMode keeps quotes fresh and recomputes opportunities on every tick.
// Nothing is traded.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")
	return a.runLoops(ctx, deps, nil)
}

// TradeMode scans like ScanMode and after every pass opens and executes an
// operation for the best opportunity that clears the configured threshold.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("operation_mode", a.cfg.Operation.Mode),
		slog.Float64("min_spread_percent", a.cfg.Operation.MinSpreadPercent),
	)
	if err := a.seedFunding(ctx, deps); err != nil {
		return err
	}
	return a.runLoops(ctx, deps, func(ctx context.Context, analyses []domain.Analysis) {
		a.tradeBest(ctx, deps, analyses)
	})
}

// WatchMode tails the operation and analysis updates of an engine running
// elsewhere against the same Redis bus and logs them.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if deps.SignalBus == nil {
		return errors.New("app: watch mode needs the redis event bus")
	}
	a.logger.InfoContext(ctx, "starting watch mode")
	return event.NewWatcher(deps.SignalBus, a.logger).Run(ctx, func(u event.Update) {
		a.logUpdate(ctx, u)
	})
}

func (a *App) logUpdate(ctx context.Context, u event.Update) {
	switch {
	case u.Operation != nil:
		op := u.Operation
		a.logger.InfoContext(ctx, "operation update",
			slog.String("operation_id", op.OperationID),
			slog.String("mode", op.Mode),
			slog.String("symbol", op.Symbol),
			slog.String("status", op.Status),
			slog.String("hint", op.ProgressHint),
			slog.String("error", op.Error),
			slog.String("profit_loss", op.ProfitLoss),
			slog.Bool("replayed", u.Replayed),
		)
	case u.Analysis != nil:
		an := u.Analysis
		a.logger.InfoContext(ctx, "analysis update",
			slog.String("symbol", an.Symbol),
			slog.Float64("spread_percent", an.SpreadPercent),
			slog.String("acquire", an.Exchanges.Acquire),
			slog.String("dispose", an.Exchanges.Dispose),
		)
	}
}

// ArchiveMode copies settled operations and stale analyses older than the
// retention window to object storage, then exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode", slog.Time("before", cutoff))

	ops, err := deps.Archiver.ArchiveOperations(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive operations: %w", err)
	}
	analyses, err := deps.Archiver.ArchiveAnalyses(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive analyses: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("operations", ops),
		slog.Int64("analyses", analyses),
	)
	return nil
}

// runLoops starts the metrics endpoint, alert delivery, the quote poller and
// the scan loop. afterScan, when set, receives each ranked pass.
func (a *App) runLoops(ctx context.Context, deps *Dependencies, afterScan func(context.Context, []domain.Analysis)) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger)
		})
	}
	g.Go(func() error {
		return deps.Alerter.Run(ctx)
	})
	g.Go(func() error {
		return deps.Poller.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Scanner.Interval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				analyses, err := deps.Scanner.ScanAll(ctx, a.cfg.Scanner.Symbols)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					a.logger.ErrorContext(ctx, "scan pass failed", slog.String("error", err.Error()))
					continue
				}
				if afterScan != nil {
					afterScan(ctx, analyses)
				}
			}
		}
	})

	return g.Wait()
}

// seedFunding credits the configured starting capital once per exchange. The
// lexically first exchange funded becomes the mode's primary.
func (a *App) seedFunding(ctx context.Context, deps *Dependencies) error {
	mode := domain.Mode(a.cfg.Operation.Mode)
	ids := make([]string, 0, len(a.cfg.Operation.Funding))
	for id := range a.cfg.Operation.Funding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		amount := a.cfg.Operation.Funding[id]
		ref := fmt.Sprintf("fund:init:%s:%s", mode, id)
		entry, err := deps.Ledger.Seed(ctx, mode, id, decimal.NewFromFloat(amount), ref)
		if err != nil {
			return fmt.Errorf("app: seed funding %s: %w", id, err)
		}
		a.logger.InfoContext(ctx, "exchange funded",
			slog.String("mode", string(mode)),
			slog.String("exchange", id),
			slog.String("usdt", entry.USDTBalance.String()),
			slog.Bool("primary", entry.IsPrimary),
		)
	}
	return nil
}

// tradeBest opens at most one operation per pass. Insufficient balance on the
// acquire exchange is expected while earlier operations hold reservations.
func (a *App) tradeBest(ctx context.Context, deps *Dependencies, analyses []domain.Analysis) {
	invested := a.cfg.Operation.InvestedAmount
	best, ok := pickOpportunity(analyses, invested, a.cfg.Operation.MinSpreadPercent)
	if !ok {
		return
	}

	mode := domain.Mode(a.cfg.Operation.Mode)
	op, err := deps.Machine.Initiate(ctx, operation.FromAnalysis(best, mode, decimal.NewFromFloat(invested)))
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrInsufficientBalance) {
			level = slog.LevelInfo
		}
		a.logger.Log(ctx, level, "operation not opened",
			slog.String("symbol", best.Symbol),
			slog.String("acquire", best.AcquireExchange),
			slog.String("dispose", best.DisposeExchange),
			slog.String("error", err.Error()),
		)
		return
	}

	id := op.ID
	op, err = deps.Machine.Execute(ctx, id)
	if err != nil {
		a.logger.WarnContext(ctx, "operation did not complete",
			slog.String("operation_id", id),
			slog.String("status", string(op.Status)),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "operation settled",
		slog.String("operation_id", op.ID),
		slog.String("status", string(op.Status)),
		slog.String("profit_loss", op.ProfitLoss.String()),
	)
}

// pickOpportunity returns the first cross-exchange analysis whose spread net
// of trading and withdrawal fees reaches minSpread. analyses must be ranked.
func pickOpportunity(analyses []domain.Analysis, invested, minSpread float64) (domain.Analysis, bool) {
	for _, an := range analyses {
		if !an.CrossExchange() {
			continue
		}
		if netSpreadPercent(an, invested) >= minSpread {
			return an, true
		}
	}
	return domain.Analysis{}, false
}

// netSpreadPercent deducts both taker fees and the withdrawal fee, valued at
// the dispose price, from the raw spread.
func netSpreadPercent(an domain.Analysis, invested float64) float64 {
	net := an.SpreadPercent - (an.TakerFeeAcquire+an.TakerFeeDispose)*100
	if invested > 0 && an.WithdrawalFee > 0 {
		net -= an.WithdrawalFee * an.DisposePrice / invested * 100
	}
	return net
}
