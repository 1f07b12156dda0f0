package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// BinanceConfig configures the spot adapter. Testnet selects the exchange sandbox.
type BinanceConfig struct {
	ID        string
	APIKey    string
	APISecret string
	Testnet   bool
}

// Binance is a spot adapter over the go-binance REST client. Order and
// withdrawal amounts are floored to the increments learned from
// LoadMarkets and GetCurrencyNetworks.
type Binance struct {
	id     string
	client *binance.Client

	mu        sync.RWMutex
	lots      map[string]lotRules // by venue symbol
	multiples map[string]string   // ASSET|NETWORK -> withdrawIntegerMultiple
}

type lotRules struct {
	step      string
	quotePrec int
}

// NewBinance builds the client. binance.UseTestnet is process-global in the
// client library, so it is set only for the duration of client construction.
func NewBinance(cfg BinanceConfig) *Binance {
	prev := binance.UseTestnet
	binance.UseTestnet = cfg.Testnet
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	binance.UseTestnet = prev

	id := cfg.ID
	if id == "" {
		id = "binance"
	}
	return &Binance{
		id:        id,
		client:    client,
		lots:      make(map[string]lotRules),
		multiples: make(map[string]string),
	}
}

func (b *Binance) ID() string { return b.id }

func venueSymbol(symbol string) string { return strings.ReplaceAll(symbol, "/", "") }

func (b *Binance) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}
	out := make([]domain.Market, 0, len(info.Symbols))
	lots := make(map[string]lotRules, len(info.Symbols))
	for _, s := range info.Symbols {
		rules := lotRules{quotePrec: s.QuoteAssetPrecision}
		if f := s.LotSizeFilter(); f != nil {
			rules.step = f.StepSize
		}
		lots[s.Symbol] = rules
		out = append(out, domain.Market{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Spot:   s.IsSpotTradingAllowed,
			Active: s.Status == "TRADING",
		})
	}
	b.mu.Lock()
	b.lots = lots
	b.mu.Unlock()
	return out, nil
}

func (b *Binance) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	tickers, err := b.client.NewListBookTickersService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance: book ticker %s: %w", symbol, err)
	}
	if len(tickers) == 0 {
		return domain.Quote{}, fmt.Errorf("binance: book ticker %s: %w", symbol, domain.ErrInvalidSymbolOnExchange)
	}
	ask, err := strconv.ParseFloat(tickers[0].AskPrice, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance: parse ask %q: %w", tickers[0].AskPrice, err)
	}
	bid, err := strconv.ParseFloat(tickers[0].BidPrice, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance: parse bid %q: %w", tickers[0].BidPrice, err)
	}
	return domain.Quote{Ask: ask, Bid: bid, Timestamp: time.Now()}, nil
}

func (b *Binance) GetTradingFees(ctx context.Context, symbol string) (domain.TradingFees, error) {
	details, err := b.client.NewTradeFeeService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return domain.TradingFees{}, fmt.Errorf("binance: trade fee %s: %w", symbol, err)
	}
	if len(details) == 0 {
		return domain.TradingFees{}, fmt.Errorf("binance: trade fee %s: empty response", symbol)
	}
	maker, _ := strconv.ParseFloat(details[0].MakerCommission, 64)
	taker, _ := strconv.ParseFloat(details[0].TakerCommission, 64)
	return domain.TradingFees{Maker: maker, Taker: taker}, nil
}

func (b *Binance) GetCurrencyNetworks(ctx context.Context, asset string) ([]domain.TransferNetwork, error) {
	coins, err := b.client.NewGetAllCoinsInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: coins info: %w", err)
	}
	for _, c := range coins {
		if c.Coin != asset {
			continue
		}
		out := make([]domain.TransferNetwork, 0, len(c.NetworkList))
		b.mu.Lock()
		for _, n := range c.NetworkList {
			b.multiples[asset+"|"+n.Network] = n.WithdrawIntegerMultiple
		}
		b.mu.Unlock()
		for _, n := range c.NetworkList {
			tn := domain.TransferNetwork{
				Network:         n.Network,
				WithdrawEnabled: n.WithdrawEnable,
				DepositEnabled:  n.DepositEnable,
			}
			if fee, err := strconv.ParseFloat(n.WithdrawFee, 64); err == nil {
				tn.Fee = &fee
			}
			out = append(out, tn)
		}
		return out, nil
	}
	return nil, nil
}

func (b *Binance) Withdraw(ctx context.Context, req domain.WithdrawRequest) (string, error) {
	multiple, err := b.withdrawMultiple(ctx, req.Asset, req.Network)
	if err != nil {
		return "", err
	}
	amount, err := floorToStep(req.Amount, multiple)
	if err != nil {
		return "", fmt.Errorf("binance: withdraw %s via %s: %w", req.Asset, req.Network, err)
	}
	svc := b.client.NewCreateWithdrawService().
		Coin(req.Asset).
		Network(req.Network).
		Address(req.Address).
		Amount(amount)
	if req.Tag != "" {
		svc = svc.AddressTag(req.Tag)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("binance: withdraw %s via %s: %w", req.Asset, req.Network, err)
	}
	return resp.ID, nil
}

func (b *Binance) CreateMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (domain.Fill, error) {
	rules, err := b.increments(ctx, symbol)
	if err != nil {
		return domain.Fill{}, err
	}
	qty, err := floorToPlaces(quoteAmount, rules.quotePrec)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: market buy %s: %w", symbol, err)
	}
	resp, err := b.client.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(qty).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: market buy %s: %w", symbol, err)
	}
	return toFill(symbol, resp)
}

func (b *Binance) CreateMarketSell(ctx context.Context, symbol string, baseAmount float64) (domain.Fill, error) {
	rules, err := b.increments(ctx, symbol)
	if err != nil {
		return domain.Fill{}, err
	}
	qty, err := floorToStep(baseAmount, rules.step)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: market sell %s: %w", symbol, err)
	}
	resp, err := b.client.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(qty).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: market sell %s: %w", symbol, err)
	}
	return toFill(symbol, resp)
}

// increments returns the symbol's increments, loading exchange info on first use.
func (b *Binance) increments(ctx context.Context, symbol string) (lotRules, error) {
	vs := venueSymbol(symbol)
	b.mu.RLock()
	rules, ok := b.lots[vs]
	b.mu.RUnlock()
	if ok {
		return rules, nil
	}
	if _, err := b.LoadMarkets(ctx); err != nil {
		return lotRules{}, err
	}
	b.mu.RLock()
	rules, ok = b.lots[vs]
	b.mu.RUnlock()
	if !ok {
		return lotRules{}, fmt.Errorf("binance: %s: %w", symbol, domain.ErrInvalidSymbolOnExchange)
	}
	return rules, nil
}

func (b *Binance) withdrawMultiple(ctx context.Context, asset, network string) (string, error) {
	key := asset + "|" + network
	b.mu.RLock()
	m, ok := b.multiples[key]
	b.mu.RUnlock()
	if ok {
		return m, nil
	}
	if _, err := b.GetCurrencyNetworks(ctx, asset); err != nil {
		return "", err
	}
	b.mu.RLock()
	m = b.multiples[key]
	b.mu.RUnlock()
	return m, nil
}

// floorToStep rounds amount down to a multiple of step, as LOT_SIZE and
// withdrawIntegerMultiple require. An empty or zero step leaves the amount
// unrounded.
func floorToStep(amount float64, step string) (string, error) {
	d := decimal.NewFromFloat(amount)
	if step != "" {
		inc, err := decimal.NewFromString(step)
		if err != nil {
			return "", fmt.Errorf("parse step %q: %w", step, err)
		}
		if inc.IsPositive() {
			d = d.Div(inc).Floor().Mul(inc)
		}
	}
	if !d.IsPositive() {
		return "", domain.Invalid("amount", fmt.Sprintf("%v is below increment %s", amount, step))
	}
	return d.String(), nil
}

// floorToPlaces truncates amount to places decimals. Zero places means the
// precision is unknown and the amount is sent as is.
func floorToPlaces(amount float64, places int) (string, error) {
	d := decimal.NewFromFloat(amount)
	if places > 0 {
		d = d.Truncate(int32(places))
	}
	if !d.IsPositive() {
		return "", domain.Invalid("amount", fmt.Sprintf("%v is below precision %d", amount, places))
	}
	return d.String(), nil
}

// toFill converts commissions into the quote asset. Commissions charged in a
// third asset (BNB discounts) are left unset so callers apply the taker rate.
func toFill(symbol string, resp *binance.CreateOrderResponse) (domain.Fill, error) {
	base, quote := domain.SplitSymbol(symbol)
	amount, err := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: parse executed qty %q: %w", resp.ExecutedQuantity, err)
	}
	cost, err := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: parse quote qty %q: %w", resp.CummulativeQuoteQuantity, err)
	}
	if amount <= 0 {
		return domain.Fill{}, fmt.Errorf("binance: order %d on %s not filled (%s)", resp.OrderID, symbol, resp.Status)
	}
	fill := domain.Fill{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Price:   cost / amount,
		Amount:  amount,
		Cost:    cost,
		FeeSet:  true,
	}
	for _, f := range resp.Fills {
		commission, _ := strconv.ParseFloat(f.Commission, 64)
		price, _ := strconv.ParseFloat(f.Price, 64)
		switch f.CommissionAsset {
		case quote:
			fill.Fee += commission
		case base:
			fill.Fee += commission * price
		default:
			fill.FeeSet = false
		}
	}
	return fill, nil
}
