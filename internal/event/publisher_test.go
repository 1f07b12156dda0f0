package event

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/store/memory"
)

func TestOperationUpdatePayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewSignalBus()
	sub, err := bus.Subscribe(ctx, ChannelOperations)
	require.NoError(t, err)

	p := NewPublisher(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.OperationUpdated(ctx, domain.Operation{
		ID: "op-1", Mode: domain.ModeLocal, Symbol: "BTC/USDT",
		Status: domain.StatusFailed, ErrorMessage: "transfer_asset: adapter timeout",
		ProfitLoss: decimal.NewFromInt(3),
	}, "failed")

	select {
	case raw := <-sub:
		var got map[string]any
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "failed", got["status"])
		assert.Equal(t, "failed", got["progress_hint"])
		assert.Equal(t, "transfer_asset: adapter timeout", got["error"])
		_, hasPnL := got["profit_loss"]
		assert.False(t, hasPnL)
	case <-time.After(time.Second):
		t.Fatal("no operation update published")
	}

	msgs, err := bus.StreamRead(ctx, StreamOperations, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestAnalysisUpdatePayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewSignalBus()
	sub, err := bus.Subscribe(ctx, ChannelAnalysis)
	require.NoError(t, err)

	NewPublisher(bus, slog.New(slog.NewTextHandler(io.Discard, nil))).AnalysisUpdated(ctx, domain.Analysis{
		Symbol: "XYZ/USDT", SpreadPercent: 2, AcquireExchange: "A", DisposeExchange: "B",
	})

	raw := <-sub
	var got AnalysisUpdate
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "XYZ/USDT", got.Symbol)
	assert.Equal(t, 2.0, got.SpreadPercent)
	assert.Equal(t, Exchanges{Acquire: "A", Dispose: "B"}, got.Exchanges)
}
