package exchange

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// SimulatedConfig describes a synthetic venue.
type SimulatedConfig struct {
	ID       string
	Fees     domain.TradingFees
	Networks map[string][]domain.TransferNetwork // keyed by asset
	Symbols  []string
}

// Simulated is a local-mode venue that fills every order at the latest stored quote.
type Simulated struct {
	cfg    SimulatedConfig
	quotes domain.QuoteStore
}

func NewSimulated(cfg SimulatedConfig, quotes domain.QuoteStore) *Simulated {
	return &Simulated{cfg: cfg, quotes: quotes}
}

func (s *Simulated) ID() string { return s.cfg.ID }

// LoadMarkets lists configured symbols plus every symbol this venue has quoted.
func (s *Simulated) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	seen := make(map[string]bool)
	var out []domain.Market
	add := func(symbol string) {
		if seen[symbol] {
			return
		}
		seen[symbol] = true
		base, quote := domain.SplitSymbol(symbol)
		out = append(out, domain.Market{Symbol: symbol, Base: base, Quote: quote, Spot: true, Active: true})
	}
	for _, sym := range s.cfg.Symbols {
		add(sym)
	}
	symbols, err := s.quotes.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	for _, sym := range symbols {
		if _, err := s.GetQuote(ctx, sym); err == nil {
			add(sym)
		}
	}
	return out, nil
}

func (s *Simulated) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	quotes, err := s.quotes.ListBySymbol(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	for _, q := range quotes {
		if q.ExchangeID == s.cfg.ID {
			return domain.Quote{Ask: q.AskPrice, Bid: q.BidPrice, Timestamp: q.ObservedAt}, nil
		}
	}
	return domain.Quote{}, fmt.Errorf("simulated %s: no quote for %s: %w", s.cfg.ID, symbol, domain.ErrInvalidSymbolOnExchange)
}

func (s *Simulated) GetTradingFees(_ context.Context, _ string) (domain.TradingFees, error) {
	return s.cfg.Fees, nil
}

func (s *Simulated) GetCurrencyNetworks(_ context.Context, asset string) ([]domain.TransferNetwork, error) {
	return s.cfg.Networks[asset], nil
}

func (s *Simulated) Withdraw(_ context.Context, req domain.WithdrawRequest) (string, error) {
	if req.Amount <= 0 {
		return "", domain.Invalid("amount", "must be positive")
	}
	return "sim-wd-" + uuid.NewString(), nil
}

// CreateMarketBuy spends quoteAmount at the stored ask and charges the taker rate in quote.
func (s *Simulated) CreateMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (domain.Fill, error) {
	if quoteAmount <= 0 {
		return domain.Fill{}, domain.Invalid("quote_amount", "must be positive")
	}
	q, err := s.GetQuote(ctx, symbol)
	if err != nil {
		return domain.Fill{}, err
	}
	if q.Ask <= 0 {
		return domain.Fill{}, fmt.Errorf("simulated %s: no ask for %s: %w", s.cfg.ID, symbol, domain.ErrInvalidSymbolOnExchange)
	}
	return domain.Fill{
		OrderID: "sim-buy-" + uuid.NewString(),
		Price:   q.Ask,
		Amount:  quoteAmount / q.Ask,
		Cost:    quoteAmount,
		Fee:     quoteAmount * s.cfg.Fees.Taker,
		FeeSet:  true,
	}, nil
}

// CreateMarketSell sells baseAmount at the stored bid and charges the taker rate in quote.
func (s *Simulated) CreateMarketSell(ctx context.Context, symbol string, baseAmount float64) (domain.Fill, error) {
	if baseAmount <= 0 {
		return domain.Fill{}, domain.Invalid("base_amount", "must be positive")
	}
	q, err := s.GetQuote(ctx, symbol)
	if err != nil {
		return domain.Fill{}, err
	}
	if q.Bid <= 0 {
		return domain.Fill{}, fmt.Errorf("simulated %s: no bid for %s: %w", s.cfg.ID, symbol, domain.ErrInvalidSymbolOnExchange)
	}
	cost := baseAmount * q.Bid
	return domain.Fill{
		OrderID: "sim-sell-" + uuid.NewString(),
		Price:   q.Bid,
		Amount:  baseAmount,
		Cost:    cost,
		Fee:     cost * s.cfg.Fees.Taker,
		FeeSet:  true,
	}, nil
}
