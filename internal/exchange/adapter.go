// Package exchange defines the venue connectivity contract and a registry that
// caches venue metadata per exchange.
package exchange

import (
	"context"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Adapter is the connectivity surface the engine needs from one exchange.
type Adapter interface {
	ID() string
	LoadMarkets(ctx context.Context) ([]domain.Market, error)
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
	GetTradingFees(ctx context.Context, symbol string) (domain.TradingFees, error)
	GetCurrencyNetworks(ctx context.Context, asset string) ([]domain.TransferNetwork, error)
	Withdraw(ctx context.Context, req domain.WithdrawRequest) (txID string, err error)
	CreateMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (domain.Fill, error)
	CreateMarketSell(ctx context.Context, symbol string, baseAmount float64) (domain.Fill, error)
}
