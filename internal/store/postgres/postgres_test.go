package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func startPostgres(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "arb",
				"POSTGRES_PASSWORD": "arb",
				"POSTGRES_DB":       "arbengine",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{
		Host: host, Port: port.Int(), Database: "arbengine", User: "arb", Password: "arb",
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	// A second run is a no-op.
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPostgresStores(t *testing.T) {
	c := startPostgres(t)
	ctx := context.Background()

	t.Run("analyses", func(t *testing.T) {
		s := NewAnalysisStore(c.Pool())
		now := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, s.Upsert(ctx, domain.Analysis{Symbol: "ETH/USDT", AcquireExchange: "a", DisposeExchange: "b", SpreadPercent: 0.5, ComputedAt: now}))
		require.NoError(t, s.Upsert(ctx, domain.Analysis{Symbol: "BTC/USDT", AcquireExchange: "a", DisposeExchange: "b", SpreadPercent: 1.2, ComputedAt: now.Add(-time.Hour)}))
		require.NoError(t, s.Upsert(ctx, domain.Analysis{
			Symbol: "ETH/USDT", AcquireExchange: "c", DisposeExchange: "b", SpreadPercent: 0.7,
			TakerFeeAcquire: 0.001, MakerFeeAcquire: 0.0009, TakerFeeDispose: 0.002, MakerFeeDispose: 0.0015,
			WithdrawalNetwork: "ERC20", ComputedAt: now,
		}))

		got, err := s.Get(ctx, "ETH/USDT")
		require.NoError(t, err)
		assert.Equal(t, "c", got.AcquireExchange)
		assert.Equal(t, "ERC20", got.WithdrawalNetwork)
		assert.Equal(t, 0.001, got.TakerFeeAcquire)
		assert.Equal(t, 0.0009, got.MakerFeeAcquire)
		assert.Equal(t, 0.002, got.TakerFeeDispose)
		assert.Equal(t, 0.0015, got.MakerFeeDispose)
		assert.True(t, now.Equal(got.ComputedAt))

		top, err := s.ListTop(ctx, 10)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "BTC/USDT", top[0].Symbol)

		old, err := s.ListBefore(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, old, 1)
		assert.Equal(t, "BTC/USDT", old[0].Symbol)

		_, err = s.Get(ctx, "XRP/USDT")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("operations", func(t *testing.T) {
		s := NewOperationStore(c.Pool())
		now := time.Now().UTC().Truncate(time.Microsecond)
		conf := 0.8
		op := domain.Operation{
			ID: "op-1", Mode: domain.ModeLocal, Symbol: "ETH/USDT",
			AcquireExchange: "a", DisposeExchange: "b",
			ExpectedAcquirePrice: 100, ExpectedDisposePrice: 102,
			InvestedAmount: dec("500"), Status: domain.StatusPending, Reservation: domain.ReservationHeld,
			AIConfidence: &conf, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, s.Create(ctx, op))
		assert.ErrorIs(t, s.Create(ctx, op), domain.ErrAlreadyExists)

		op.Status = domain.StatusAssetPurchased
		op.AssetAmount = dec("4.995")
		op.AcquireFee = dec("0.5")
		op.Legs = []domain.LegRecord{{Kind: domain.LegAcquire, TransactionID: "sim-1", Price: 100, AmountIn: dec("500"), AmountOut: dec("4.995"), Fee: dec("0.5"), RecordedAt: now}}
		op.UpdatedAt = now.Add(time.Second)
		require.NoError(t, s.Update(ctx, op))

		got, err := s.GetByID(ctx, "op-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAssetPurchased, got.Status)
		assert.True(t, got.AssetAmount.Equal(dec("4.995")))
		require.NotNil(t, got.AIConfidence)
		assert.Equal(t, 0.8, *got.AIConfidence)
		require.Len(t, got.Legs, 1)
		assert.Equal(t, "sim-1", got.Legs[0].TransactionID)
		assert.Nil(t, got.CompletedAt)

		list, err := s.List(ctx, domain.OperationFilter{Mode: domain.ModeLocal, Status: domain.StatusAssetPurchased}, domain.ListOpts{Limit: 5})
		require.NoError(t, err)
		assert.Len(t, list, 1)

		missing := op
		missing.ID = "op-missing"
		assert.ErrorIs(t, s.Update(ctx, missing), domain.ErrNotFound)
	})

	t.Run("balances", func(t *testing.T) {
		s := NewBalanceStore(c.Pool())
		fund := domain.BalanceMutation{Mode: domain.ModeSandbox, ExchangeID: "a", Kind: domain.MutationFund, Amount: dec("1000"), Ref: "fund:a"}
		e, err := s.Apply(ctx, fund)
		require.NoError(t, err)
		assert.True(t, e.IsPrimary)

		// Replayed ref is a no-op.
		e, err = s.Apply(ctx, fund)
		require.NoError(t, err)
		assert.True(t, e.USDTBalance.Equal(dec("1000")))

		_, err = s.Apply(ctx, domain.BalanceMutation{Mode: domain.ModeSandbox, ExchangeID: "b", Kind: domain.MutationFund, Amount: dec("10")})
		require.NoError(t, err)
		b, err := s.Get(ctx, domain.ModeSandbox, "b")
		require.NoError(t, err)
		assert.False(t, b.IsPrimary)

		_, err = s.Apply(ctx, domain.BalanceMutation{Mode: domain.ModeSandbox, ExchangeID: "b", Kind: domain.MutationReserve, Amount: dec("11"), Ref: "op:x:reserve"})
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		// The failed reserve left no journal row behind.
		_, err = s.Apply(ctx, domain.BalanceMutation{Mode: domain.ModeSandbox, ExchangeID: "b", Kind: domain.MutationReserve, Amount: dec("5"), Ref: "op:x:reserve"})
		require.NoError(t, err)

		_, err = s.Apply(ctx, domain.BalanceMutation{Mode: domain.ModeSandbox, ExchangeID: "b", Kind: domain.MutationAsset, Asset: "ETH", Amount: dec("0.25")})
		require.NoError(t, err)
		b, err = s.Get(ctx, domain.ModeSandbox, "b")
		require.NoError(t, err)
		assert.True(t, b.ReservedBalance.Equal(dec("5")))
		assert.True(t, b.Assets["ETH"].Equal(dec("0.25")))

		require.NoError(t, s.SetPrimary(ctx, domain.ModeSandbox, "b"))
		all, err := s.List(ctx, domain.ModeSandbox)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.False(t, all[0].IsPrimary)
		assert.True(t, all[1].IsPrimary)

		require.NoError(t, s.Deactivate(ctx, domain.ModeSandbox, "a"))
		_, err = s.Apply(ctx, domain.BalanceMutation{Mode: domain.ModeSandbox, ExchangeID: "a", Kind: domain.MutationReserve, Amount: dec("1")})
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.ErrorIs(t, s.Deactivate(ctx, domain.ModeSandbox, "zz"), domain.ErrNotFound)
	})

	t.Run("concurrent reservations never overdraw", func(t *testing.T) {
		s := NewBalanceStore(c.Pool())
		_, err := s.Apply(ctx, domain.BalanceMutation{Mode: domain.ModeReal, ExchangeID: "a", Kind: domain.MutationFund, Amount: dec("1000")})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Apply(ctx, domain.BalanceMutation{Mode: domain.ModeReal, ExchangeID: "a", Kind: domain.MutationReserve, Amount: dec("300"), Ref: fmt.Sprintf("op:%d:reserve", i)})
				if err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 3, ok)
		e, err := s.Get(ctx, domain.ModeReal, "a")
		require.NoError(t, err)
		assert.True(t, e.USDTBalance.Equal(dec("100")))
		assert.True(t, e.ReservedBalance.Equal(dec("900")))
	})

	t.Run("audit", func(t *testing.T) {
		s := NewAuditStore(c.Pool())
		require.NoError(t, s.Log(ctx, "ledger.fund", map[string]any{"exchange": "a"}))
		require.NoError(t, s.Log(ctx, "operation.completed", map[string]any{"operation_id": "op-1"}))
		entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "operation.completed", entries[0].Event)
		assert.Equal(t, "op-1", entries[0].Detail["operation_id"])
	})
}
