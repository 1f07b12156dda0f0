package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func fund(t *testing.T, s *BalanceStore, ex string, amount int64) {
	t.Helper()
	_, err := s.Apply(context.Background(), domain.BalanceMutation{
		Mode: domain.ModeLocal, ExchangeID: ex, Kind: domain.MutationFund, Amount: decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
}

func TestBalanceStoreFirstFundedIsPrimary(t *testing.T) {
	s := NewBalanceStore()
	fund(t, s, "binance", 100)
	fund(t, s, "kraken", 100)

	a, err := s.Get(context.Background(), domain.ModeLocal, "binance")
	require.NoError(t, err)
	b, err := s.Get(context.Background(), domain.ModeLocal, "kraken")
	require.NoError(t, err)
	assert.True(t, a.IsPrimary)
	assert.False(t, b.IsPrimary)

	require.NoError(t, s.SetPrimary(context.Background(), domain.ModeLocal, "kraken"))
	a, _ = s.Get(context.Background(), domain.ModeLocal, "binance")
	b, _ = s.Get(context.Background(), domain.ModeLocal, "kraken")
	assert.False(t, a.IsPrimary)
	assert.True(t, b.IsPrimary)
}

func TestBalanceStoreReserveRefIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	fund(t, s, "binance", 100)

	m := domain.BalanceMutation{
		Mode: domain.ModeLocal, ExchangeID: "binance", Kind: domain.MutationReserve,
		Amount: decimal.NewFromInt(40), Ref: "op:1:reserve",
	}
	_, err := s.Apply(ctx, m)
	require.NoError(t, err)
	e, err := s.Apply(ctx, m)
	require.NoError(t, err)

	assert.True(t, e.USDTBalance.Equal(decimal.NewFromInt(60)))
	assert.True(t, e.ReservedBalance.Equal(decimal.NewFromInt(40)))
}

func TestBalanceStoreReserveUnknownOrInactive(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	_, err := s.Apply(ctx, domain.BalanceMutation{
		Mode: domain.ModeLocal, ExchangeID: "nowhere", Kind: domain.MutationReserve, Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	fund(t, s, "binance", 100)
	require.NoError(t, s.Deactivate(ctx, domain.ModeLocal, "binance"))
	_, err = s.Apply(ctx, domain.BalanceMutation{
		Mode: domain.ModeLocal, ExchangeID: "binance", Kind: domain.MutationReserve, Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestBalanceStoreModesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewBalanceStore()
	fund(t, s, "binance", 100)

	_, err := s.Get(ctx, domain.ModeReal, "binance")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	entries, err := s.List(ctx, domain.ModeSandbox)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
