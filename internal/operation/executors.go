package operation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/netfee"
)

// Venues is the execution surface of one environment. exchange.Registry satisfies it.
type Venues interface {
	ValidateSymbol(ctx context.Context, exchangeID, symbol string) error
	TradingFees(ctx context.Context, exchangeID, symbol string) (domain.TradingFees, error)
	MarketBuy(ctx context.Context, exchangeID, symbol string, quoteAmount float64) (domain.Fill, error)
	MarketSell(ctx context.Context, exchangeID, symbol string, baseAmount float64) (domain.Fill, error)
	Withdraw(ctx context.Context, exchangeID string, req domain.WithdrawRequest) (string, error)
}

// RouteFinder picks the transfer network. netfee.Optimizer satisfies it.
type RouteFinder interface {
	CheapestNetwork(ctx context.Context, src, dst, symbol string) (netfee.Route, error)
}

// DepositAddress is where a venue accepts an asset on one network.
type DepositAddress struct {
	Address string
	Tag     string
}

// AddressBook maps AddressKey(exchange, asset, network) to a deposit address.
type AddressBook map[string]DepositAddress

func AddressKey(exchangeID, asset, network string) string {
	return strings.ToLower(exchangeID) + "/" + strings.ToUpper(asset) + "/" + strings.ToUpper(network)
}

// Lookup tries each network label in order.
func (b AddressBook) Lookup(exchangeID, asset string, networks ...string) (DepositAddress, bool) {
	for _, n := range networks {
		if n == "" {
			continue
		}
		if addr, ok := b[AddressKey(exchangeID, asset, n)]; ok {
			return addr, true
		}
	}
	return DepositAddress{}, false
}

// trader places the market orders shared by every executor.
type trader struct {
	venues Venues
	logger *slog.Logger
}

func orderID(fill domain.Fill, prefix string) string {
	if fill.OrderID != "" {
		return fill.OrderID
	}
	return prefix + uuid.NewString()
}

// fee returns the fill's fee in quote, falling back to the taker rate on cost.
func (t trader) fee(ctx context.Context, exchangeID, symbol string, fill domain.Fill) decimal.Decimal {
	if fill.FeeSet {
		return decimal.NewFromFloat(fill.Fee)
	}
	fees, err := t.venues.TradingFees(ctx, exchangeID, symbol)
	if err != nil {
		t.logger.WarnContext(ctx, "taker rate unavailable, booking zero fee",
			slog.String("exchange", exchangeID),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return decimal.Zero
	}
	return decimal.NewFromFloat(fill.Cost * fees.Taker)
}

func (t trader) acquire(ctx context.Context, op domain.Operation) (AcquireResult, error) {
	if err := t.venues.ValidateSymbol(ctx, op.AcquireExchange, op.Symbol); err != nil {
		return AcquireResult{}, err
	}
	amount := op.ActualInvestedAmount
	if amount.IsZero() {
		amount = op.InvestedAmount
	}
	fill, err := t.venues.MarketBuy(ctx, op.AcquireExchange, op.Symbol, amount.InexactFloat64())
	if err != nil {
		return AcquireResult{}, err
	}
	return AcquireResult{
		TransactionID: orderID(fill, "buy-"),
		Price:         fill.Price,
		GrossAmount:   decimal.NewFromFloat(fill.Amount),
		Fee:           t.fee(ctx, op.AcquireExchange, op.Symbol, fill),
	}, nil
}

func (t trader) dispose(ctx context.Context, op domain.Operation) (DisposeResult, error) {
	if err := t.venues.ValidateSymbol(ctx, op.DisposeExchange, op.Symbol); err != nil {
		return DisposeResult{}, err
	}
	fill, err := t.venues.MarketSell(ctx, op.DisposeExchange, op.Symbol, op.AssetAmount.InexactFloat64())
	if err != nil {
		return DisposeResult{}, err
	}
	return DisposeResult{
		TransactionID: orderID(fill, "sell-"),
		Price:         fill.Price,
		AmountSold:    decimal.NewFromFloat(fill.Amount),
		GrossProceeds: decimal.NewFromFloat(fill.Cost),
		Fee:           t.fee(ctx, op.DisposeExchange, op.Symbol, fill),
	}, nil
}

// LocalExecutor fills against simulated venues and moves assets without
// touching any chain.
type LocalExecutor struct {
	trader
	routes RouteFinder
}

func NewLocalExecutor(venues Venues, routes RouteFinder, logger *slog.Logger) *LocalExecutor {
	return &LocalExecutor{
		trader: trader{venues: venues, logger: logger.With(slog.String("executor", "local"))},
		routes: routes,
	}
}

func (e *LocalExecutor) TransferIn(_ context.Context, op domain.Operation) (TransferInResult, error) {
	return TransferInResult{TransactionID: "local-in-" + uuid.NewString(), Amount: op.InvestedAmount}, nil
}

func (e *LocalExecutor) Acquire(ctx context.Context, op domain.Operation) (AcquireResult, error) {
	return e.acquire(ctx, op)
}

// TransferAsset charges the cheapest network fee, or nothing when no route
// can be priced.
func (e *LocalExecutor) TransferAsset(ctx context.Context, op domain.Operation) (TransferAssetResult, error) {
	res := TransferAssetResult{
		TransactionID: "local-xfer-" + uuid.NewString(),
		AmountSent:    op.AssetAmount,
		Fee:           decimal.Zero,
	}
	route, err := e.routes.CheapestNetwork(ctx, op.AcquireExchange, op.DisposeExchange, op.Symbol)
	if err != nil {
		e.logger.WarnContext(ctx, "no priced transfer route, assuming zero fee",
			slog.String("operation_id", op.ID),
			slog.String("symbol", op.Symbol),
			slog.String("error", err.Error()),
		)
	} else {
		res.Network = route.Network
		res.Fee = decimal.NewFromFloat(route.Fee)
	}
	res.AmountReceived = res.AmountSent.Sub(res.Fee)
	return res, nil
}

func (e *LocalExecutor) Dispose(ctx context.Context, op domain.Operation) (DisposeResult, error) {
	return e.dispose(ctx, op)
}

// VenueExecutor trades on real exchange endpoints, either an exchange sandbox
// or production. USDT is expected to already sit on the acquire exchange.
type VenueExecutor struct {
	trader
	routes    RouteFinder
	addresses AddressBook
	enabled   bool
	label     string
}

// NewSandboxExecutor trades against exchange test environments.
func NewSandboxExecutor(venues Venues, routes RouteFinder, addresses AddressBook, logger *slog.Logger) *VenueExecutor {
	return &VenueExecutor{
		trader:    trader{venues: venues, logger: logger.With(slog.String("executor", "sandbox"))},
		routes:    routes,
		addresses: addresses,
		enabled:   true,
		label:     "sandbox",
	}
}

// NewLiveExecutor trades real funds. Every leg fails with
// domain.ErrLiveTradingDisabled unless enabled is set.
func NewLiveExecutor(venues Venues, routes RouteFinder, addresses AddressBook, enabled bool, logger *slog.Logger) *VenueExecutor {
	return &VenueExecutor{
		trader:    trader{venues: venues, logger: logger.With(slog.String("executor", "live"))},
		routes:    routes,
		addresses: addresses,
		enabled:   enabled,
		label:     "live",
	}
}

func (e *VenueExecutor) guard() error {
	if !e.enabled {
		return fmt.Errorf("%s executor: %w", e.label, domain.ErrLiveTradingDisabled)
	}
	return nil
}

func (e *VenueExecutor) TransferIn(_ context.Context, op domain.Operation) (TransferInResult, error) {
	if err := e.guard(); err != nil {
		return TransferInResult{}, err
	}
	return TransferInResult{TransactionID: e.label + "-in-" + uuid.NewString(), Amount: op.InvestedAmount}, nil
}

func (e *VenueExecutor) Acquire(ctx context.Context, op domain.Operation) (AcquireResult, error) {
	if err := e.guard(); err != nil {
		return AcquireResult{}, err
	}
	return e.acquire(ctx, op)
}

// TransferAsset withdraws the purchased asset to the dispose exchange over the
// cheapest viable network.
func (e *VenueExecutor) TransferAsset(ctx context.Context, op domain.Operation) (TransferAssetResult, error) {
	if err := e.guard(); err != nil {
		return TransferAssetResult{}, err
	}
	route, err := e.routes.CheapestNetwork(ctx, op.AcquireExchange, op.DisposeExchange, op.Symbol)
	if err != nil {
		return TransferAssetResult{}, err
	}
	base, _ := domain.SplitSymbol(op.Symbol)
	addr, ok := e.addresses.Lookup(op.DisposeExchange, base, route.Network, route.Canonical)
	if !ok {
		return TransferAssetResult{}, domain.Invalid("deposit_address",
			fmt.Sprintf("none configured for %s %s on %s", op.DisposeExchange, base, route.Network))
	}
	txID, err := e.venues.Withdraw(ctx, op.AcquireExchange, domain.WithdrawRequest{
		Asset:   base,
		Network: route.Network,
		Address: addr.Address,
		Tag:     addr.Tag,
		Amount:  op.AssetAmount.InexactFloat64(),
	})
	if err != nil {
		return TransferAssetResult{}, err
	}
	fee := decimal.NewFromFloat(route.Fee)
	return TransferAssetResult{
		TransactionID:  txID,
		Network:        route.Network,
		Fee:            fee,
		AmountSent:     op.AssetAmount,
		AmountReceived: op.AssetAmount.Sub(fee),
	}, nil
}

func (e *VenueExecutor) Dispose(ctx context.Context, op domain.Operation) (DisposeResult, error) {
	if err := e.guard(); err != nil {
		return DisposeResult{}, err
	}
	return e.dispose(ctx, op)
}
