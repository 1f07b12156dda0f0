package event

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/store/memory"
)

func TestWatcherReplaysThenFollows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memory.NewSignalBus()
	pub := NewPublisher(bus, logger)

	pub.OperationUpdated(ctx, domain.Operation{ID: "op-1", Mode: domain.ModeLocal, Symbol: "BTC/USDT", Status: domain.StatusPending}, "initiated")
	pub.OperationUpdated(ctx, domain.Operation{ID: "op-1", Mode: domain.ModeLocal, Symbol: "BTC/USDT", Status: domain.StatusCancelled}, "cancelled")
	require.NoError(t, bus.StreamAppend(ctx, StreamOperations, []byte("not json")))

	got := make(chan Update, 8)
	done := make(chan error, 1)
	go func() { done <- NewWatcher(bus, logger).Run(ctx, func(u Update) { got <- u }) }()

	next := func() Update {
		select {
		case u := <-got:
			return u
		case <-time.After(2 * time.Second):
			t.Fatal("no update delivered")
			return Update{}
		}
	}

	first, second := next(), next()
	require.NotNil(t, first.Operation)
	assert.True(t, first.Replayed)
	assert.Equal(t, "pending", first.Operation.Status)
	require.NotNil(t, second.Operation)
	assert.Equal(t, "cancelled", second.Operation.Status)

	pub.AnalysisUpdated(ctx, domain.Analysis{Symbol: "ETH/USDT", SpreadPercent: 1.1, AcquireExchange: "A", DisposeExchange: "B"})
	live := next()
	require.NotNil(t, live.Analysis)
	assert.False(t, live.Replayed)
	assert.Equal(t, "ETH/USDT", live.Analysis.Symbol)

	pub.OperationUpdated(ctx, domain.Operation{ID: "op-2", Mode: domain.ModeLocal, Symbol: "ETH/USDT", Status: domain.StatusPending}, "initiated")
	// The live publish also lands on the stream; only the pub/sub copy is delivered now.
	live = next()
	require.NotNil(t, live.Operation)
	assert.False(t, live.Replayed)
	assert.Equal(t, "op-2", live.Operation.OperationID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
