// Package feed keeps the quote store current. Live venues are polled through
// the exchange registry; simulated venues replay their configured quotes.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// QuoteSource fetches a live quote. exchange.Registry satisfies it.
type QuoteSource interface {
	Quote(ctx context.Context, exchangeID, symbol string) (domain.Quote, error)
}

// StaticQuote is a fixed ask/bid pair for a simulated venue.
type StaticQuote struct {
	Ask float64
	Bid float64
}

// PollerConfig tunes a QuotePoller.
type PollerConfig struct {
	Interval    time.Duration
	Concurrency int
	Symbols     []string
	// Live lists the exchanges polled through the QuoteSource.
	Live []string
	// Static holds fixed quotes per exchange and symbol. They are re-stamped
	// on every poll so they never age out of the scanner's freshness window.
	Static map[string]map[string]StaticQuote
}

// QuotePoller writes the latest quote of every (exchange, symbol) pair into
// the quote store on a fixed interval.
type QuotePoller struct {
	source QuoteSource
	store  domain.QuoteStore
	cfg    PollerConfig
	now    func() time.Time
	logger *slog.Logger
}

func NewQuotePoller(source QuoteSource, store domain.QuoteStore, cfg PollerConfig, logger *slog.Logger) *QuotePoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &QuotePoller{
		source: source,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "quote_poller")),
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *QuotePoller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "quote poller started",
		slog.Int("live", len(p.cfg.Live)),
		slog.Int("static", len(p.cfg.Static)),
		slog.Duration("interval", p.cfg.Interval),
	)
	defer p.logger.Info("quote poller stopped")

	if _, err := p.PollOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "quote poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// PollOnce refreshes every configured pair and returns how many quotes were
// stored. Failures on one pair are logged and do not stop the others; only a
// cancelled context is returned as an error.
func (p *QuotePoller) PollOnce(ctx context.Context) (int, error) {
	var stored atomic.Int64

	for exchangeID, quotes := range p.cfg.Static {
		for symbol, q := range quotes {
			if p.put(ctx, exchangeID, symbol, q.Ask, q.Bid) {
				stored.Add(1)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, exchangeID := range p.cfg.Live {
		for _, symbol := range p.cfg.Symbols {
			g.Go(func() error {
				q, err := p.source.Quote(gctx, exchangeID, symbol)
				if err != nil {
					p.failed(gctx, exchangeID, symbol, err)
					return nil
				}
				if p.put(gctx, exchangeID, symbol, q.Ask, q.Bid) {
					stored.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return int(stored.Load()), fmt.Errorf("feed: poll: %w", err)
	}

	p.logger.DebugContext(ctx, "quote poll complete", slog.Int64("stored", stored.Load()))
	return int(stored.Load()), nil
}

func (p *QuotePoller) put(ctx context.Context, exchangeID, symbol string, ask, bid float64) bool {
	err := p.store.Put(ctx, domain.ExchangeQuote{
		ExchangeID: exchangeID,
		Symbol:     symbol,
		AskPrice:   ask,
		BidPrice:   bid,
		ObservedAt: p.now().UTC(),
	})
	if err != nil {
		p.failed(ctx, exchangeID, symbol, err)
		return false
	}
	metrics.QuotesPolled.WithLabelValues(exchangeID, "stored").Inc()
	return true
}

func (p *QuotePoller) failed(ctx context.Context, exchangeID, symbol string, err error) {
	if errors.Is(err, domain.ErrInvalidSymbolOnExchange) {
		metrics.QuotesPolled.WithLabelValues(exchangeID, "unlisted").Inc()
		p.logger.DebugContext(ctx, "symbol not listed",
			slog.String("exchange", exchangeID),
			slog.String("symbol", symbol),
		)
		return
	}
	metrics.QuotesPolled.WithLabelValues(exchangeID, "error").Inc()
	p.logger.WarnContext(ctx, "quote fetch failed",
		slog.String("exchange", exchangeID),
		slog.String("symbol", symbol),
		slog.String("error", err.Error()),
	)
}
