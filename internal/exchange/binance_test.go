package exchange

import (
	"context"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		step   string
		want   string
	}{
		{"lot size", 1.23456789, "0.00100000", "1.234"},
		{"never rounds up", 0.0199, "0.01", "0.01"},
		{"exact multiple", 0.3, "0.1", "0.3"},
		{"integer step", 5.7, "1", "5"},
		{"unknown step", 4.9949, "", "4.9949"},
		{"zero step", 4.9949, "0", "4.9949"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := floorToStep(tt.amount, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := floorToStep(0.0004, "0.001")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = floorToStep(1, "abc")
	assert.Error(t, err)
}

func TestFloorToPlaces(t *testing.T) {
	got, err := floorToPlaces(100.123456789, 8)
	require.NoError(t, err)
	assert.Equal(t, "100.12345678", got)

	got, err = floorToPlaces(99.999, 2)
	require.NoError(t, err)
	assert.Equal(t, "99.99", got)

	got, err = floorToPlaces(100.5, 0)
	require.NoError(t, err)
	assert.Equal(t, "100.5", got)

	_, err = floorToPlaces(0.001, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBinanceUsesCachedIncrements(t *testing.T) {
	b := &Binance{
		lots:      map[string]lotRules{"BTCUSDT": {step: "0.00001", quotePrec: 8}},
		multiples: map[string]string{"BTC|BTC": "0.00000001"},
	}
	rules, err := b.increments(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "0.00001", rules.step)
	assert.Equal(t, 8, rules.quotePrec)

	m, err := b.withdrawMultiple(context.Background(), "BTC", "BTC")
	require.NoError(t, err)
	assert.Equal(t, "0.00000001", m)
}

func TestToFill(t *testing.T) {
	fill, err := toFill("BTC/USDT", &binance.CreateOrderResponse{
		OrderID:                  7,
		ExecutedQuantity:         "0.50000000",
		CummulativeQuoteQuantity: "50.00000000",
		Status:                   binance.OrderStatusTypeFilled,
		Fills: []*binance.Fill{
			{Price: "100", Quantity: "0.5", Commission: "0.05", CommissionAsset: "USDT"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "7", fill.OrderID)
	assert.Equal(t, 100.0, fill.Price)
	assert.InDelta(t, 0.05, fill.Fee, 1e-12)
	assert.True(t, fill.FeeSet)

	_, err = toFill("BTC/USDT", &binance.CreateOrderResponse{
		OrderID:                  8,
		ExecutedQuantity:         "0.00000000",
		CummulativeQuoteQuantity: "0.00000000",
		Status:                   binance.OrderStatusTypeExpired,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not filled")
}
