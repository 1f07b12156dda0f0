package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func localConfig() config.Config {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Metrics.Enabled = false
	cfg.Scanner.Symbols = []string{"BTC/USDT"}
	cfg.Operation.MinSpreadPercent = 0.5
	cfg.Operation.Funding = map[string]float64{"alpha": 1000, "beta": 1000}
	btc := map[string][]config.NetworkConfig{
		"BTC": {{Network: "BTC", Fee: ptr(0.0001)}, {Network: "LIGHTNING", Fee: ptr(0.00001), DepositEnabled: ptr(false)}},
	}
	cfg.Exchanges = map[string]config.ExchangeConfig{
		"alpha": {
			Enabled: true, Kind: "simulated", Taker: 0.001, Networks: btc,
			Quotes: map[string][]float64{"BTC/USDT": {100, 99.9}},
		},
		"beta": {
			Enabled: true, Kind: "simulated", Taker: 0.001, Networks: btc,
			Quotes: map[string][]float64{"BTC/USDT": {102, 101.5}},
		},
	}
	return cfg
}

func TestLocalTradePassSettlesOneOperation(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := localConfig()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(ctx, &cfg, logger)
	require.NoError(t, err)
	defer cleanup()
	a := New(&cfg, logger)

	require.NoError(t, a.seedFunding(ctx, deps))
	// A restart does not double the starting capital.
	require.NoError(t, a.seedFunding(ctx, deps))

	n, err := deps.Poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	analyses, err := deps.Scanner.ScanAll(ctx, cfg.Scanner.Symbols)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	best := analyses[0]
	assert.Equal(t, "alpha", best.AcquireExchange)
	assert.Equal(t, "beta", best.DisposeExchange)
	assert.Equal(t, "BTC", best.WithdrawalNetwork)
	assert.InDelta(t, 1.5, best.SpreadPercent, 1e-9)

	a.tradeBest(ctx, deps, analyses)

	ops, err := deps.Machine.List(ctx, domain.OperationFilter{Mode: domain.ModeLocal}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	op := ops[0]
	assert.Equal(t, domain.StatusCompleted, op.Status)
	assert.Equal(t, domain.ReservationConsumed, op.Reservation)
	assert.True(t, op.ProfitLoss.IsPositive(), "profit %s", op.ProfitLoss)

	alpha, err := deps.Ledger.Get(ctx, domain.ModeLocal, "alpha")
	require.NoError(t, err)
	assert.True(t, alpha.USDTBalance.Equal(decimal.NewFromInt(900)), "alpha usdt %s", alpha.USDTBalance)
	assert.True(t, alpha.ReservedBalance.IsZero())
	assert.True(t, alpha.IsPrimary)

	beta, err := deps.Ledger.Get(ctx, domain.ModeLocal, "beta")
	require.NoError(t, err)
	assert.True(t, beta.USDTBalance.Equal(decimal.NewFromInt(1000).Add(op.FinalUSDTReceived)))
}

func TestPickOpportunityNetsFees(t *testing.T) {
	analyses := []domain.Analysis{
		{Symbol: "SAME", AcquireExchange: "a", DisposeExchange: "a", SpreadPercent: 5},
		{Symbol: "FEES", AcquireExchange: "a", DisposeExchange: "b", SpreadPercent: 0.6,
			TakerFeeAcquire: 0.001, TakerFeeDispose: 0.001},
		{Symbol: "OK", AcquireExchange: "a", DisposeExchange: "b", SpreadPercent: 0.55,
			WithdrawalFee: 0.01, DisposePrice: 10},
	}
	got, ok := pickOpportunity(analyses, 100, 0.4)
	require.True(t, ok)
	assert.Equal(t, "OK", got.Symbol)

	_, ok = pickOpportunity(analyses, 100, 1)
	assert.False(t, ok)
}

func TestBuildVenuesSkipsSimulatedInRealMode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := localConfig()
	cfg.Operation.Mode = "real"
	cfg.Exchanges["binance"] = config.ExchangeConfig{Enabled: true, Kind: "binance", APIKey: "k", APISecret: "s"}

	v := buildVenues(&cfg, nil, logger)
	assert.Equal(t, []string{"binance"}, v.exec.IDs())
	assert.Equal(t, []string{"binance"}, v.live)
	assert.Len(t, v.static, 2)

	cfg.Operation.Mode = "local"
	v = buildVenues(&cfg, nil, logger)
	assert.Equal(t, []string{"alpha", "beta", "binance"}, v.exec.IDs())
	assert.Equal(t, []string{"binance"}, v.market.IDs())
}

func TestAddressBook(t *testing.T) {
	cfg := localConfig()
	ex := cfg.Exchanges["beta"]
	ex.DepositAddresses = map[string]string{"xrp/XRP": "rAddr|12345", "BTC/BTC": "bc1q"}
	cfg.Exchanges["beta"] = ex

	book := addressBook(&cfg)
	addr, ok := book.Lookup("beta", "XRP", "XRP")
	require.True(t, ok)
	assert.Equal(t, "rAddr", addr.Address)
	assert.Equal(t, "12345", addr.Tag)
	addr, ok = book.Lookup("BETA", "btc", "nope", "btc")
	require.True(t, ok)
	assert.Equal(t, "bc1q", addr.Address)
}
