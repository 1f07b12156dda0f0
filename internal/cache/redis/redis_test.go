package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container test skipped in -short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: host + ":" + port.Port(), KeyPrefix: "arbtest"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisBackends(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()

	t.Run("quote store", func(t *testing.T) {
		qs := NewQuoteStore(c)
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, qs.Put(ctx, domain.ExchangeQuote{ExchangeID: "b", Symbol: "ETH/USDT", AskPrice: 2001, BidPrice: 2000, ObservedAt: now}))
		require.NoError(t, qs.Put(ctx, domain.ExchangeQuote{ExchangeID: "a", Symbol: "ETH/USDT", AskPrice: 1999, BidPrice: 1998, ObservedAt: now}))
		require.NoError(t, qs.Put(ctx, domain.ExchangeQuote{ExchangeID: "a", Symbol: "ETH/USDT", AskPrice: 1990, BidPrice: 1989, ObservedAt: now}))

		quotes, err := qs.ListBySymbol(ctx, "ETH/USDT")
		require.NoError(t, err)
		require.Len(t, quotes, 2)
		assert.Equal(t, "a", quotes[0].ExchangeID)
		assert.Equal(t, 1990.0, quotes[0].AskPrice)
		assert.True(t, now.Equal(quotes[0].ObservedAt))

		syms, err := qs.Symbols(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"ETH/USDT"}, syms)
	})

	t.Run("lock", func(t *testing.T) {
		lm := NewLockManager(c)
		unlock, err := lm.Acquire(ctx, "scan:ETH/USDT", time.Minute)
		require.NoError(t, err)
		_, err = lm.Acquire(ctx, "scan:ETH/USDT", time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockHeld)
		unlock()
		unlock()
		again, err := lm.Acquire(ctx, "scan:ETH/USDT", time.Minute)
		require.NoError(t, err)
		again()
	})

	t.Run("signal bus", func(t *testing.T) {
		sb := NewSignalBus(c)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		sub, err := sb.Subscribe(subCtx, "operations")
		require.NoError(t, err)

		require.NoError(t, sb.Publish(ctx, "operations", []byte(`{"status":"pending"}`)))
		select {
		case msg := <-sub:
			assert.JSONEq(t, `{"status":"pending"}`, string(msg))
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}

		require.NoError(t, sb.StreamAppend(ctx, "operations:stream", []byte("one")))
		require.NoError(t, sb.StreamAppend(ctx, "operations:stream", []byte("two")))
		msgs, err := sb.StreamRead(ctx, "operations:stream", "0", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "two", string(msgs[1].Payload))
	})
}
