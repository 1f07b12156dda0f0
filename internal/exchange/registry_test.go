package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/store/memory"
)

type countingAdapter struct {
	*Simulated
	marketCalls  atomic.Int32
	feeCalls     atomic.Int32
	networkCalls atomic.Int32
	failFees     bool
	block        bool
}

func (c *countingAdapter) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	c.marketCalls.Add(1)
	return c.Simulated.LoadMarkets(ctx)
}

func (c *countingAdapter) GetTradingFees(ctx context.Context, symbol string) (domain.TradingFees, error) {
	c.feeCalls.Add(1)
	if c.failFees {
		return domain.TradingFees{}, errors.New("429 too many requests")
	}
	return c.Simulated.GetTradingFees(ctx, symbol)
}

func (c *countingAdapter) GetCurrencyNetworks(ctx context.Context, asset string) ([]domain.TransferNetwork, error) {
	c.networkCalls.Add(1)
	return c.Simulated.GetCurrencyNetworks(ctx, asset)
}

func (c *countingAdapter) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if c.block {
		<-ctx.Done()
		return domain.Quote{}, ctx.Err()
	}
	return c.Simulated.GetQuote(ctx, symbol)
}

func newCounting(t *testing.T) *countingAdapter {
	t.Helper()
	quotes := memory.NewQuoteStore()
	require.NoError(t, quotes.Put(context.Background(), domain.ExchangeQuote{
		ExchangeID: "sim", Symbol: "BTC/USDT", AskPrice: 100, BidPrice: 99, ObservedAt: time.Now(),
	}))
	return &countingAdapter{Simulated: NewSimulated(SimulatedConfig{
		ID:   "sim",
		Fees: domain.TradingFees{Maker: 0.001, Taker: 0.002},
		Networks: map[string][]domain.TransferNetwork{
			"BTC": {{Network: "BTC", WithdrawEnabled: true, DepositEnabled: true}},
		},
		Symbols: []string{"ETH/USDT"},
	}, quotes)}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRegistryCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	a := newCounting(t)
	r := NewRegistry(time.Hour, discard())
	r.Register(a, Limits{})

	for i := 0; i < 3; i++ {
		_, err := r.TradingFees(ctx, "sim", "BTC/USDT")
		require.NoError(t, err)
		_, err = r.Networks(ctx, "sim", "BTC")
		require.NoError(t, err)
		_, err = r.Markets(ctx, "sim")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, a.feeCalls.Load())
	assert.EqualValues(t, 1, a.networkCalls.Load())
	assert.EqualValues(t, 1, a.marketCalls.Load())

	r.Invalidate("sim")
	_, err := r.TradingFees(ctx, "sim", "BTC/USDT")
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.feeCalls.Load())

	require.NoError(t, r.Refresh(ctx, "sim"))
	assert.EqualValues(t, 2, a.marketCalls.Load())
}

func TestRegistryCacheExpires(t *testing.T) {
	ctx := context.Background()
	a := newCounting(t)
	r := NewRegistry(time.Minute, discard())
	now := time.Now()
	r.now = func() time.Time { return now }
	r.Register(a, Limits{})

	_, err := r.TradingFees(ctx, "sim", "BTC/USDT")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = r.TradingFees(ctx, "sim", "BTC/USDT")
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.feeCalls.Load())
}

func TestRegistryClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	a := newCounting(t)
	a.failFees = true
	r := NewRegistry(time.Hour, discard())
	r.Register(a, Limits{})

	_, err := r.TradingFees(ctx, "sim", "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)

	_, err = r.TradingFees(ctx, "missing", "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)

	_, err = r.Quote(ctx, "sim", "DOGE/USDT")
	assert.ErrorIs(t, err, domain.ErrInvalidSymbolOnExchange)
}

func TestRegistryTimeoutBecomesUnavailable(t *testing.T) {
	a := newCounting(t)
	a.block = true
	r := NewRegistry(time.Hour, discard())
	r.Register(a, Limits{Timeout: 20 * time.Millisecond})

	_, err := r.Quote(context.Background(), "sim", "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistryValidateSymbol(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(time.Hour, discard())
	r.Register(newCounting(t), Limits{})

	assert.NoError(t, r.ValidateSymbol(ctx, "sim", "BTC/USDT"))
	assert.NoError(t, r.ValidateSymbol(ctx, "sim", "ETH/USDT"))
	assert.ErrorIs(t, r.ValidateSymbol(ctx, "sim", "XRP/USDT"), domain.ErrInvalidSymbolOnExchange)
	assert.Equal(t, []string{"sim"}, r.IDs())
}

func TestSimulatedFillsChargeTakerInQuote(t *testing.T) {
	ctx := context.Background()
	a := newCounting(t)

	buy, err := a.CreateMarketBuy(ctx, "BTC/USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, buy.Price)
	assert.InDelta(t, 10.0, buy.Amount, 1e-9)
	assert.InDelta(t, 2.0, buy.Fee, 1e-9)

	sell, err := a.CreateMarketSell(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	assert.Equal(t, 99.0, sell.Price)
	assert.InDelta(t, 990.0, sell.Cost, 1e-9)
	assert.InDelta(t, 1.98, sell.Fee, 1e-9)
}
