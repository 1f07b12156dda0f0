package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/store/memory"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	asks  map[string]float64
}

func (f *fakeSource) Quote(_ context.Context, exchangeID, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ask, ok := f.asks[exchangeID+"|"+symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%s %s: %w", exchangeID, symbol, domain.ErrInvalidSymbolOnExchange)
	}
	return domain.Quote{Ask: ask, Bid: ask - 1, Timestamp: time.Now()}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPollOnceStoresLiveAndStatic(t *testing.T) {
	ctx := context.Background()
	store := memory.NewQuoteStore()
	src := &fakeSource{asks: map[string]float64{
		"binance|BTC/USDT": 100,
		"binance|ETH/USDT": 10,
	}}
	p := NewQuotePoller(src, store, PollerConfig{
		Symbols: []string{"BTC/USDT", "ETH/USDT", "XRP/USDT"},
		Live:    []string{"binance"},
		Static: map[string]map[string]StaticQuote{
			"paper": {"BTC/USDT": {Ask: 101, Bid: 100.5}},
		},
	}, quietLogger())
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, src.calls)

	quotes, err := store.ListBySymbol(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	byExchange := map[string]domain.ExchangeQuote{}
	for _, q := range quotes {
		byExchange[q.ExchangeID] = q
	}
	assert.Equal(t, 100.0, byExchange["binance"].AskPrice)
	assert.Equal(t, 99.0, byExchange["binance"].BidPrice)
	assert.Equal(t, 100.5, byExchange["paper"].BidPrice)
	assert.Equal(t, now, byExchange["paper"].ObservedAt)

	// Static quotes are re-stamped on the next poll.
	now = now.Add(time.Minute)
	_, err = p.PollOnce(ctx)
	require.NoError(t, err)
	quotes, err = store.ListBySymbol(ctx, "BTC/USDT")
	require.NoError(t, err)
	for _, q := range quotes {
		assert.Equal(t, now, q.ObservedAt)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := memory.NewQuoteStore()
	p := NewQuotePoller(&fakeSource{}, store, PollerConfig{
		Interval: 10 * time.Millisecond,
		Static:   map[string]map[string]StaticQuote{"paper": {"ETH/USDT": {Ask: 10, Bid: 9}}},
	}, quietLogger())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		qs, err := store.ListBySymbol(context.Background(), "ETH/USDT")
		return err == nil && len(qs) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
