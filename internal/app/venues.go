package app

import (
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/exchange"
	"github.com/alanyoungcy/arbengine/internal/feed"
	"github.com/alanyoungcy/arbengine/internal/operation"
)

// venues holds the two registries of one process. market answers live quotes
// for binance venues. exec is what the scanner prices and the executors trade
// against; in local mode it holds only simulated venues.
type venues struct {
	market *exchange.Registry
	exec   *exchange.Registry
	live   []string
	static map[string]map[string]feed.StaticQuote
}

// buildVenues registers every enabled exchange for the configured operation
// mode. Simulated venues are skipped in real mode.
func buildVenues(cfg *config.Config, quotes domain.QuoteStore, logger *slog.Logger) venues {
	mode := domain.Mode(cfg.Operation.Mode)
	ttl := cfg.Scanner.MetadataTTL.Duration

	v := venues{
		market: exchange.NewRegistry(ttl, logger),
		static: make(map[string]map[string]feed.StaticQuote),
	}
	if mode == domain.ModeLocal {
		v.exec = exchange.NewRegistry(ttl, logger)
	} else {
		v.exec = v.market
	}

	for _, id := range cfg.EnabledExchanges() {
		ex := cfg.Exchanges[id]
		lim := exchange.Limits{
			RequestsPerSecond: ex.RateLimit,
			Burst:             ex.Burst,
			Timeout:           ex.Timeout.Duration,
		}

		if ex.Kind == "binance" {
			v.market.Register(exchange.NewBinance(exchange.BinanceConfig{
				ID:        id,
				APIKey:    ex.APIKey,
				APISecret: ex.APISecret,
				Testnet:   mode == domain.ModeSandbox || ex.Sandbox,
			}), lim)
			v.live = append(v.live, id)
		} else if len(ex.Quotes) > 0 {
			static := make(map[string]feed.StaticQuote, len(ex.Quotes))
			for sym, q := range ex.Quotes {
				static[sym] = feed.StaticQuote{Ask: q[0], Bid: q[1]}
			}
			v.static[id] = static
		}

		switch {
		case mode == domain.ModeLocal:
			v.exec.Register(exchange.NewSimulated(simulatedConfig(id, ex, cfg.Scanner.Symbols), quotes), exchange.Limits{})
		case ex.Kind == "simulated" && mode == domain.ModeReal:
			logger.Warn("simulated exchange skipped in real mode", slog.String("exchange", id))
		case ex.Kind == "simulated":
			v.exec.Register(exchange.NewSimulated(simulatedConfig(id, ex, cfg.Scanner.Symbols), quotes), exchange.Limits{})
		}
	}
	return v
}

// simulatedConfig derives a synthetic venue from its configuration. Networks
// default to enabled in both directions when the flags are omitted.
func simulatedConfig(id string, ex config.ExchangeConfig, symbols []string) exchange.SimulatedConfig {
	sc := exchange.SimulatedConfig{
		ID:       id,
		Fees:     domain.TradingFees{Maker: ex.Maker, Taker: ex.Taker},
		Networks: make(map[string][]domain.TransferNetwork, len(ex.Networks)),
		Symbols:  append([]string(nil), symbols...),
	}
	for asset, nets := range ex.Networks {
		out := make([]domain.TransferNetwork, 0, len(nets))
		for _, n := range nets {
			tn := domain.TransferNetwork{
				Network:         n.Network,
				WithdrawEnabled: true,
				DepositEnabled:  true,
				Fee:             n.Fee,
			}
			if n.WithdrawEnabled != nil {
				tn.WithdrawEnabled = *n.WithdrawEnabled
			}
			if n.DepositEnabled != nil {
				tn.DepositEnabled = *n.DepositEnabled
			}
			out = append(out, tn)
		}
		sc.Networks[strings.ToUpper(asset)] = out
	}
	for sym := range ex.Quotes {
		sc.Symbols = append(sc.Symbols, sym)
	}
	return sc
}

// addressBook collects deposit addresses. A value may carry a memo after "|".
func addressBook(cfg *config.Config) operation.AddressBook {
	book := make(operation.AddressBook)
	for _, id := range cfg.EnabledExchanges() {
		for key, value := range cfg.Exchanges[id].DepositAddresses {
			asset, network, _ := strings.Cut(key, "/")
			addr, tag, _ := strings.Cut(value, "|")
			book[operation.AddressKey(id, asset, network)] = operation.DepositAddress{Address: addr, Tag: tag}
		}
	}
	return book
}
