package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/store/memory"
)

func newLedger() (*Ledger, *memory.AuditStore) {
	audit := memory.NewAuditStore()
	return New(memory.NewBalanceStore(), audit, slog.New(slog.NewTextHandler(io.Discard, nil))), audit
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestConcurrentReservationsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	_, err := l.Fund(ctx, domain.ModeLocal, "A", d(100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Reserve(ctx, domain.ModeLocal, "A", d(80), fmt.Sprintf("op:%d:reserve", i))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	}
	assert.Equal(t, 1, succeeded)

	e, err := l.Get(ctx, domain.ModeLocal, "A")
	require.NoError(t, err)
	assert.True(t, e.USDTBalance.Equal(d(20)), e.USDTBalance.String())
	assert.True(t, e.ReservedBalance.Equal(d(80)), e.ReservedBalance.String())
}

func TestConservationUnderMixedLoad(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	_, err := l.Fund(ctx, domain.ModeLocal, "A", d(1000))
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		net = decimal.Zero
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := fmt.Sprintf("op:%d", i)
			if _, err := l.Reserve(ctx, domain.ModeLocal, "A", d(60), ref+":reserve"); err != nil {
				return
			}
			if i%3 == 0 {
				_, err := l.Release(ctx, domain.ModeLocal, "A", d(60), ref+":release")
				assert.NoError(t, err)
				return
			}
			_, err := l.Consume(ctx, domain.ModeLocal, "A", d(60), ref+":consume")
			assert.NoError(t, err)
			final := d(60 + int64(i%5) - 2)
			_, err = l.Credit(ctx, domain.ModeLocal, "A", final, final.Sub(d(60)), ref+":credit")
			assert.NoError(t, err)
			mu.Lock()
			net = net.Add(final.Sub(d(60)))
			mu.Unlock()
		}()
	}
	wg.Wait()

	e, err := l.Get(ctx, domain.ModeLocal, "A")
	require.NoError(t, err)
	assert.False(t, e.USDTBalance.IsNegative())
	assert.True(t, e.ReservedBalance.IsZero())
	assert.True(t, e.TotalBalance().Equal(d(1000).Add(net)), "total %s net %s", e.TotalBalance(), net)
	assert.True(t, e.TotalProfitLoss.Equal(net))
}

func TestReleaseWithoutReservationFails(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	_, err := l.Fund(ctx, domain.ModeLocal, "A", d(10))
	require.NoError(t, err)

	_, err = l.Release(ctx, domain.ModeLocal, "A", d(5), "")
	assert.ErrorIs(t, err, domain.ErrReservationMismatch)
}

func TestAdministration(t *testing.T) {
	ctx := context.Background()
	l, audit := newLedger()
	_, err := l.Fund(ctx, domain.ModeSandbox, "A", d(10))
	require.NoError(t, err)
	_, err = l.Fund(ctx, domain.ModeSandbox, "B", d(10))
	require.NoError(t, err)

	p, err := l.Primary(ctx, domain.ModeSandbox)
	require.NoError(t, err)
	assert.Equal(t, "A", p.ExchangeID)

	require.NoError(t, l.SetPrimary(ctx, domain.ModeSandbox, "B"))
	p, err = l.Primary(ctx, domain.ModeSandbox)
	require.NoError(t, err)
	assert.Equal(t, "B", p.ExchangeID)

	require.NoError(t, l.Deactivate(ctx, domain.ModeSandbox, "A"))
	_, err = l.Reserve(ctx, domain.ModeSandbox, "A", d(1), "")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = l.Primary(ctx, domain.ModeReal)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = l.Fund(ctx, domain.ModeSandbox, "A", d(-1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "ledger.fund", entries[0].Event)
}

func TestAssetBalances(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	e, err := l.AdjustAsset(ctx, domain.ModeLocal, "A", "BTC", decimal.RequireFromString("0.5"), "op:1:acquire")
	require.NoError(t, err)
	assert.True(t, e.Assets["BTC"].Equal(decimal.RequireFromString("0.5")))

	e, err = l.AdjustAsset(ctx, domain.ModeLocal, "A", "BTC", decimal.RequireFromString("-0.5"), "op:1:dispose")
	require.NoError(t, err)
	_, held := e.Assets["BTC"]
	assert.False(t, held)
}

func TestSeedAppliesOncePerRef(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	for i := 0; i < 3; i++ {
		_, err := l.Seed(ctx, domain.ModeLocal, "A", d(500), "fund:init:local:A")
		require.NoError(t, err)
	}
	e, err := l.Get(ctx, domain.ModeLocal, "A")
	require.NoError(t, err)
	assert.True(t, e.USDTBalance.Equal(d(500)))
	assert.True(t, e.IsPrimary)
}
