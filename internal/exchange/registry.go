package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Limits bounds how hard the registry drives one adapter.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

type cached[T any] struct {
	value     T
	fetchedAt time.Time
}

type venue struct {
	adapter Adapter
	limiter *rate.Limiter
	timeout time.Duration

	mu       sync.Mutex
	markets  *cached[map[string]domain.Market]
	fees     map[string]cached[domain.TradingFees]
	networks map[string]cached[[]domain.TransferNetwork]
}

// Registry owns the adapters for one execution environment together with a
// per-exchange cache of markets, fee schedules and transfer networks.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*venue
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry returns an empty registry whose metadata cache expires after ttl.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		venues: make(map[string]*venue),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "exchange_registry")),
	}
}

// Register adds or replaces an adapter. A zero RequestsPerSecond disables limiting.
func (r *Registry) Register(a Adapter, lim Limits) {
	limit := rate.Inf
	if lim.RequestsPerSecond > 0 {
		limit = rate.Limit(lim.RequestsPerSecond)
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[a.ID()] = &venue{
		adapter:  a,
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  lim.Timeout,
		fees:     make(map[string]cached[domain.TradingFees]),
		networks: make(map[string]cached[[]domain.TransferNetwork]),
	}
}

// IDs lists registered exchange ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.venues))
	for id := range r.venues {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) venue(id string) (*venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return nil, fmt.Errorf("exchange: %s not registered: %w", id, domain.ErrAdapterUnavailable)
	}
	return v, nil
}

// call waits for the venue's limiter, applies its timeout and classifies failures.
func call[T any](ctx context.Context, v *venue, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	if err := v.limiter.Wait(ctx); err != nil {
		metrics.AdapterErrors.WithLabelValues(v.adapter.ID(), op).Inc()
		return zero, fmt.Errorf("exchange: %s %s: rate limit wait: %w: %w", v.adapter.ID(), op, domain.ErrAdapterUnavailable, err)
	}
	out, err := fn(ctx)
	if err != nil {
		metrics.AdapterErrors.WithLabelValues(v.adapter.ID(), op).Inc()
		if errors.Is(err, domain.ErrInvalidSymbolOnExchange) || errors.Is(err, domain.ErrValidation) {
			return zero, fmt.Errorf("exchange: %s %s: %w", v.adapter.ID(), op, err)
		}
		return zero, fmt.Errorf("exchange: %s %s: %w: %w", v.adapter.ID(), op, domain.ErrAdapterUnavailable, err)
	}
	return out, nil
}

func (r *Registry) fresh(at time.Time) bool {
	return r.ttl > 0 && r.now().Sub(at) < r.ttl
}

// Markets returns the exchange's markets keyed by symbol, loading them on first use.
func (r *Registry) Markets(ctx context.Context, exchangeID string) (map[string]domain.Market, error) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	if v.markets != nil && r.fresh(v.markets.fetchedAt) {
		m := v.markets.value
		v.mu.Unlock()
		return m, nil
	}
	v.mu.Unlock()

	list, err := call(ctx, v, "load_markets", v.adapter.LoadMarkets)
	if err != nil {
		return nil, err
	}
	m := make(map[string]domain.Market, len(list))
	for _, mk := range list {
		m[mk.Symbol] = mk
	}
	v.mu.Lock()
	v.markets = &cached[map[string]domain.Market]{value: m, fetchedAt: r.now()}
	v.mu.Unlock()
	r.logger.DebugContext(ctx, "markets loaded", slog.String("exchange", exchangeID), slog.Int("count", len(m)))
	return m, nil
}

// ValidateSymbol fails with ErrInvalidSymbolOnExchange unless symbol is an
// active spot market on the exchange.
func (r *Registry) ValidateSymbol(ctx context.Context, exchangeID, symbol string) error {
	markets, err := r.Markets(ctx, exchangeID)
	if err != nil {
		return err
	}
	mk, ok := markets[symbol]
	if !ok || !mk.Tradable() {
		return fmt.Errorf("exchange: %s %s: %w", exchangeID, symbol, domain.ErrInvalidSymbolOnExchange)
	}
	return nil
}

// TradingFees returns the cached fee schedule for symbol on the exchange.
func (r *Registry) TradingFees(ctx context.Context, exchangeID, symbol string) (domain.TradingFees, error) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return domain.TradingFees{}, err
	}
	v.mu.Lock()
	if c, ok := v.fees[symbol]; ok && r.fresh(c.fetchedAt) {
		v.mu.Unlock()
		return c.value, nil
	}
	v.mu.Unlock()

	fees, err := call(ctx, v, "trading_fees", func(ctx context.Context) (domain.TradingFees, error) {
		return v.adapter.GetTradingFees(ctx, symbol)
	})
	if err != nil {
		return domain.TradingFees{}, err
	}
	v.mu.Lock()
	v.fees[symbol] = cached[domain.TradingFees]{value: fees, fetchedAt: r.now()}
	v.mu.Unlock()
	return fees, nil
}

// Networks returns the cached transfer networks for asset on the exchange.
// It satisfies netfee.NetworkSource.
func (r *Registry) Networks(ctx context.Context, exchangeID, asset string) ([]domain.TransferNetwork, error) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	if c, ok := v.networks[asset]; ok && r.fresh(c.fetchedAt) {
		v.mu.Unlock()
		return c.value, nil
	}
	v.mu.Unlock()

	nets, err := call(ctx, v, "currency_networks", func(ctx context.Context) ([]domain.TransferNetwork, error) {
		return v.adapter.GetCurrencyNetworks(ctx, asset)
	})
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.networks[asset] = cached[[]domain.TransferNetwork]{value: nets, fetchedAt: r.now()}
	v.mu.Unlock()
	return nets, nil
}

// Quote fetches a live quote. Quotes are never cached.
func (r *Registry) Quote(ctx context.Context, exchangeID, symbol string) (domain.Quote, error) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return domain.Quote{}, err
	}
	return call(ctx, v, "quote", func(ctx context.Context) (domain.Quote, error) {
		return v.adapter.GetQuote(ctx, symbol)
	})
}

// Withdraw sends an asset off the exchange and returns the venue transaction id.
func (r *Registry) Withdraw(ctx context.Context, exchangeID string, req domain.WithdrawRequest) (string, error) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return "", err
	}
	return call(ctx, v, "withdraw", func(ctx context.Context) (string, error) {
		return v.adapter.Withdraw(ctx, req)
	})
}

// MarketBuy spends quoteAmount of the quote asset on symbol.
func (r *Registry) MarketBuy(ctx context.Context, exchangeID, symbol string, quoteAmount float64) (domain.Fill, error) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return domain.Fill{}, err
	}
	return call(ctx, v, "market_buy", func(ctx context.Context) (domain.Fill, error) {
		return v.adapter.CreateMarketBuy(ctx, symbol, quoteAmount)
	})
}

// MarketSell sells baseAmount of symbol's base asset.
func (r *Registry) MarketSell(ctx context.Context, exchangeID, symbol string, baseAmount float64) (domain.Fill, error) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return domain.Fill{}, err
	}
	return call(ctx, v, "market_sell", func(ctx context.Context) (domain.Fill, error) {
		return v.adapter.CreateMarketSell(ctx, symbol, baseAmount)
	})
}

// Invalidate drops every cached entry for the exchange.
func (r *Registry) Invalidate(exchangeID string) {
	v, err := r.venue(exchangeID)
	if err != nil {
		return
	}
	v.mu.Lock()
	v.markets = nil
	v.fees = make(map[string]cached[domain.TradingFees])
	v.networks = make(map[string]cached[[]domain.TransferNetwork])
	v.mu.Unlock()
}

// InvalidateAll drops the cache of every exchange.
func (r *Registry) InvalidateAll() {
	for _, id := range r.IDs() {
		r.Invalidate(id)
	}
}

// Refresh invalidates the exchange's cache and reloads its markets.
func (r *Registry) Refresh(ctx context.Context, exchangeID string) error {
	r.Invalidate(exchangeID)
	_, err := r.Markets(ctx, exchangeID)
	return err
}
