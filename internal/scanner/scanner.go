// Package scanner turns per-exchange quotes into ranked, fee-enriched
// arbitrage opportunities.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/netfee"
)

// FeeSource supplies trading fee schedules. exchange.Registry satisfies it.
type FeeSource interface {
	TradingFees(ctx context.Context, exchangeID, symbol string) (domain.TradingFees, error)
}

// RouteFinder prices the transfer leg. netfee.Optimizer satisfies it.
type RouteFinder interface {
	CheapestNetwork(ctx context.Context, src, dst, symbol string) (netfee.Route, error)
}

// Publisher receives every persisted Analysis.
type Publisher interface {
	AnalysisUpdated(ctx context.Context, a domain.Analysis)
}

// Config tunes a Scanner.
type Config struct {
	QuoteMaxAge time.Duration // 0 accepts quotes of any age
	Concurrency int
	LockTTL     time.Duration
}

// Scanner computes one Analysis per symbol. Routes and Locks are optional.
type Scanner struct {
	quotes     domain.QuoteStore
	analyses   domain.AnalysisStore
	fees       FeeSource
	routes     RouteFinder
	locks      domain.LockManager
	publishers []Publisher
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger
}

// Deps groups the collaborators of a Scanner.
type Deps struct {
	Quotes     domain.QuoteStore
	Analyses   domain.AnalysisStore
	Fees       FeeSource
	Routes     RouteFinder
	Locks      domain.LockManager
	Publishers []Publisher
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Scanner{
		quotes:     deps.Quotes,
		analyses:   deps.Analyses,
		fees:       deps.Fees,
		routes:     deps.Routes,
		locks:      deps.Locks,
		publishers: deps.Publishers,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "scanner")),
	}
}

// Selection is the fee-naive pick of acquire and dispose venues.
type Selection struct {
	Acquire    domain.ExchangeQuote
	Dispose    domain.ExchangeQuote
	Considered int
}

// Select picks the lowest positive ask and the highest positive bid among
// fresh quotes. The two sides are chosen independently and may land on the
// same exchange. Equal prices resolve to the lexically smaller exchange id.
// ok is false when fewer than two exchanges quote or either side is missing.
func Select(quotes []domain.ExchangeQuote, now time.Time, maxAge time.Duration) (sel Selection, ok bool) {
	exchanges := make(map[string]struct{})
	var haveAsk, haveBid bool
	for _, q := range quotes {
		if maxAge > 0 && now.Sub(q.ObservedAt) > maxAge {
			continue
		}
		if q.AskPrice <= 0 && q.BidPrice <= 0 {
			continue
		}
		exchanges[q.ExchangeID] = struct{}{}
		if q.AskPrice > 0 {
			if !haveAsk || q.AskPrice < sel.Acquire.AskPrice ||
				(q.AskPrice == sel.Acquire.AskPrice && q.ExchangeID < sel.Acquire.ExchangeID) {
				sel.Acquire = q
				haveAsk = true
			}
		}
		if q.BidPrice > 0 {
			if !haveBid || q.BidPrice > sel.Dispose.BidPrice ||
				(q.BidPrice == sel.Dispose.BidPrice && q.ExchangeID < sel.Dispose.ExchangeID) {
				sel.Dispose = q
				haveBid = true
			}
		}
	}
	sel.Considered = len(exchanges)
	return sel, sel.Considered >= 2 && haveAsk && haveBid
}

// Scan analyzes one symbol, persists the result and publishes it. It returns
// (nil, nil) when the symbol cannot be analyzed and wraps domain.ErrLockHeld
// when another pass for the same symbol is in progress.
func (s *Scanner) Scan(ctx context.Context, symbol string) (*domain.Analysis, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "scan:"+symbol, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				metrics.ScanPasses.WithLabelValues(symbol, "locked").Inc()
			}
			return nil, fmt.Errorf("scanner: lock %s: %w", symbol, err)
		}
		defer unlock()
	}

	quotes, err := s.quotes.ListBySymbol(ctx, symbol)
	if err != nil {
		metrics.ScanPasses.WithLabelValues(symbol, "error").Inc()
		return nil, fmt.Errorf("scanner: quotes for %s: %w", symbol, err)
	}
	now := s.now()
	sel, ok := Select(quotes, now, s.cfg.QuoteMaxAge)
	if !ok {
		metrics.ScanPasses.WithLabelValues(symbol, "skipped").Inc()
		s.logger.DebugContext(ctx, "symbol not analyzable",
			slog.String("symbol", symbol),
			slog.Int("quotes", len(quotes)),
		)
		return nil, nil
	}

	a := domain.Analysis{
		Symbol:              symbol,
		AcquireExchange:     sel.Acquire.ExchangeID,
		DisposeExchange:     sel.Dispose.ExchangeID,
		AcquirePrice:        sel.Acquire.AskPrice,
		DisposePrice:        sel.Dispose.BidPrice,
		SpreadPercent:       domain.SpreadPercent(sel.Acquire.AskPrice, sel.Dispose.BidPrice),
		ExchangesConsidered: sel.Considered,
		ComputedAt:          now,
	}
	s.enrich(ctx, &a)

	if err := s.analyses.Upsert(ctx, a); err != nil {
		metrics.ScanPasses.WithLabelValues(symbol, "error").Inc()
		return nil, fmt.Errorf("scanner: upsert analysis %s: %w", symbol, err)
	}
	metrics.ScanPasses.WithLabelValues(symbol, "analyzed").Inc()
	metrics.SpreadPercent.WithLabelValues(symbol).Set(a.SpreadPercent)
	for _, p := range s.publishers {
		p.AnalysisUpdated(ctx, a)
	}
	return &a, nil
}

// enrich attaches fees. Every lookup failure degrades its field to zero.
func (s *Scanner) enrich(ctx context.Context, a *domain.Analysis) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fees := s.tradingFees(ctx, a.AcquireExchange, a.Symbol)
		a.TakerFeeAcquire, a.MakerFeeAcquire = fees.Taker, fees.Maker
	}()
	go func() {
		defer wg.Done()
		fees := s.tradingFees(ctx, a.DisposeExchange, a.Symbol)
		a.TakerFeeDispose, a.MakerFeeDispose = fees.Taker, fees.Maker
	}()
	if a.CrossExchange() && s.routes != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			route, err := s.routes.CheapestNetwork(ctx, a.AcquireExchange, a.DisposeExchange, a.Symbol)
			if err != nil {
				metrics.FeeLookupFailures.WithLabelValues(a.AcquireExchange, "withdrawal").Inc()
				s.logger.WarnContext(ctx, "withdrawal fee unavailable, assuming zero",
					slog.String("symbol", a.Symbol),
					slog.String("source", a.AcquireExchange),
					slog.String("destination", a.DisposeExchange),
					slog.String("error", err.Error()),
				)
				return
			}
			a.WithdrawalFee = route.Fee
			a.WithdrawalNetwork = route.Network
		}()
	}
	wg.Wait()
}

func (s *Scanner) tradingFees(ctx context.Context, exchangeID, symbol string) domain.TradingFees {
	if s.fees == nil {
		return domain.TradingFees{}
	}
	fees, err := s.fees.TradingFees(ctx, exchangeID, symbol)
	if err != nil {
		metrics.FeeLookupFailures.WithLabelValues(exchangeID, "trading").Inc()
		s.logger.WarnContext(ctx, "trading fee unavailable, assuming zero",
			slog.String("symbol", symbol),
			slog.String("exchange", exchangeID),
			slog.String("error", err.Error()),
		)
		return domain.TradingFees{}
	}
	return fees
}

// ScanAll scans symbols with bounded concurrency. A failure on one symbol is
// logged and skipped. With no symbols given, every symbol in the quote store
// is scanned. The analyzed subset is returned in rank order.
func (s *Scanner) ScanAll(ctx context.Context, symbols []string) ([]domain.Analysis, error) {
	if len(symbols) == 0 {
		var err error
		symbols, err = s.quotes.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanner: list symbols: %w", err)
		}
	}

	var (
		mu  sync.Mutex
		out []domain.Analysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			a, err := s.Scan(gctx, sym)
			switch {
			case errors.Is(err, domain.ErrLockHeld):
				s.logger.DebugContext(gctx, "scan already running", slog.String("symbol", sym))
			case err != nil:
				s.logger.WarnContext(gctx, "scan failed", slog.String("symbol", sym), slog.String("error", err.Error()))
			case a != nil:
				mu.Lock()
				out = append(out, *a)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Rank(out), err
	}

	s.logger.InfoContext(ctx, "scan pass complete",
		slog.Int("symbols", len(symbols)),
		slog.Int("analyzed", len(out)),
	)
	return Rank(out), nil
}

// TopOpportunities returns the n best stored analyses.
func (s *Scanner) TopOpportunities(ctx context.Context, n int) ([]domain.Analysis, error) {
	top, err := s.analyses.ListTop(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("scanner: top opportunities: %w", err)
	}
	return top, nil
}

// Rank sorts by spread descending, most recent first on ties.
func Rank(as []domain.Analysis) []domain.Analysis {
	sort.SliceStable(as, func(i, j int) bool {
		if as[i].SpreadPercent != as[j].SpreadPercent {
			return as[i].SpreadPercent > as[j].SpreadPercent
		}
		return as[i].ComputedAt.After(as[j].ComputedAt)
	})
	return as
}
