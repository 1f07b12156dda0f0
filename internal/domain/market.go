package domain

import (
	"strings"
	"time"
)

// Market is one spot trading pair listed on an exchange.
type Market struct {
	Symbol string // canonical "BASE/QUOTE"
	Base   string
	Quote  string
	Spot   bool
	Active bool
}

// Tradable reports whether spot orders can be placed on the market.
func (m Market) Tradable() bool { return m.Spot && m.Active }

// SplitSymbol splits "BTC/USDT" into its base and quote assets.
func SplitSymbol(symbol string) (base, quote string) {
	base, quote, found := strings.Cut(symbol, "/")
	if !found {
		return symbol, ""
	}
	return base, quote
}

// Quote is the best ask/bid pair an adapter reports for one symbol.
type Quote struct {
	Ask       float64
	Bid       float64
	Timestamp time.Time
}

// ExchangeQuote is the most recent quote for (exchange, symbol).
type ExchangeQuote struct {
	ExchangeID string    `json:"exchange_id"`
	Symbol     string    `json:"symbol"`
	AskPrice   float64   `json:"ask_price"`
	BidPrice   float64   `json:"bid_price"`
	ObservedAt time.Time `json:"observed_at"`
}

// TradingFees holds fractional maker/taker rates for a symbol on an exchange.
type TradingFees struct {
	Maker float64
	Taker float64
}

// TransferNetwork describes one chain an asset can move over from an exchange.
// Fee is in units of the asset and nil when the exchange does not publish it.
type TransferNetwork struct {
	Network         string
	WithdrawEnabled bool
	DepositEnabled  bool
	Fee             *float64
}

// Fill is the result of a market order.
type Fill struct {
	OrderID string
	Price   float64 // average execution price
	Amount  float64 // base asset filled
	Cost    float64 // quote asset spent or received
	Fee     float64 // in quote asset
	FeeSet  bool    // false when the venue did not report a fee
}

// WithdrawRequest moves an asset off an exchange to a deposit address.
type WithdrawRequest struct {
	Asset   string
	Network string
	Address string
	Tag     string
	Amount  float64
}
