// Package netfee picks the cheapest viable chain for moving an asset between
// two exchanges.
package netfee

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// NetworkSource reports the transfer networks an exchange supports for an asset.
type NetworkSource interface {
	Networks(ctx context.Context, exchangeID, asset string) ([]domain.TransferNetwork, error)
}

// Route is a viable network with its withdrawal fee in units of Asset.
// Network is the source venue's own label, the one its withdraw call expects.
type Route struct {
	Asset     string
	Network   string
	Canonical string
	Fee       float64
}

var defaultAliases = map[string]string{
	"ERC20":    "ETH",
	"ETHEREUM": "ETH",
	"TRC20":    "TRX",
	"TRON":     "TRX",
	"BEP20":    "BSC",
	"SOLANA":   "SOL",
	"POLYGON":  "MATIC",
	"ARBITRUM": "ARBONE",
}

// Optimizer is read-only and safe for concurrent use.
type Optimizer struct {
	source  NetworkSource
	aliases map[string]string
	logger  *slog.Logger
}

// New builds an Optimizer. extraAliases are merged over the built-in alias table.
func New(source NetworkSource, extraAliases map[string]string, logger *slog.Logger) *Optimizer {
	aliases := make(map[string]string, len(defaultAliases)+len(extraAliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for k, v := range extraAliases {
		aliases[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &Optimizer{
		source:  source,
		aliases: aliases,
		logger:  logger.With(slog.String("component", "netfee")),
	}
}

// Normalize maps a venue-specific network label onto a canonical identifier.
func (o *Optimizer) Normalize(network string) string {
	n := strings.ToUpper(strings.TrimSpace(network))
	if canon, ok := o.aliases[n]; ok {
		return canon
	}
	return n
}

// CheapestNetwork returns the lowest-fee network for moving symbol's base asset
// from src to dst. It fails with ErrNoCommonNetwork when no network is shared
// and usable in both directions, and ErrNoFeeData when none of those has a fee.
func (o *Optimizer) CheapestNetwork(ctx context.Context, src, dst, symbol string) (Route, error) {
	base, _ := domain.SplitSymbol(symbol)
	return o.CheapestForAsset(ctx, src, dst, base)
}

// CheapestForAsset is CheapestNetwork keyed by asset instead of symbol.
func (o *Optimizer) CheapestForAsset(ctx context.Context, src, dst, asset string) (Route, error) {
	routes, err := o.ViableRoutes(ctx, src, dst, asset)
	if err != nil {
		return Route{}, err
	}
	return routes[0], nil
}

// ViableRoutes lists every viable network with fee data, cheapest first.
func (o *Optimizer) ViableRoutes(ctx context.Context, src, dst, asset string) ([]Route, error) {
	if src == "" || dst == "" || asset == "" {
		return nil, domain.Invalid("route", "source, destination and asset are required")
	}
	srcNets, err := o.source.Networks(ctx, src, asset)
	if err != nil {
		return nil, fmt.Errorf("netfee: %s networks on %s: %w", asset, src, err)
	}
	dstNets, err := o.source.Networks(ctx, dst, asset)
	if err != nil {
		return nil, fmt.Errorf("netfee: %s networks on %s: %w", asset, dst, err)
	}

	deposit := make(map[string]bool, len(dstNets))
	for _, n := range dstNets {
		id := o.Normalize(n.Network)
		deposit[id] = deposit[id] || n.DepositEnabled
	}

	common, viable := 0, 0
	var routes []Route
	// Aliased labels share a canonical id; only the cheapest entry is kept.
	seen := make(map[string]int)
	for _, n := range srcNets {
		id := o.Normalize(n.Network)
		depositOK, shared := deposit[id]
		if !shared {
			continue
		}
		common++
		if !n.WithdrawEnabled || !depositOK {
			continue
		}
		viable++
		if n.Fee == nil {
			continue
		}
		route := Route{Asset: asset, Network: n.Network, Canonical: id, Fee: *n.Fee}
		if i, dup := seen[id]; dup {
			if route.Fee < routes[i].Fee {
				routes[i] = route
			}
			continue
		}
		seen[id] = len(routes)
		routes = append(routes, route)
	}

	switch {
	case common == 0 || viable == 0:
		o.logger.DebugContext(ctx, "no viable network",
			slog.String("asset", asset),
			slog.String("source", src),
			slog.String("destination", dst),
			slog.Int("common", common),
		)
		return nil, fmt.Errorf("netfee: %s %s->%s: %w", asset, src, dst, domain.ErrNoCommonNetwork)
	case len(routes) == 0:
		return nil, fmt.Errorf("netfee: %s %s->%s: %w", asset, src, dst, domain.ErrNoFeeData)
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Fee != routes[j].Fee {
			return routes[i].Fee < routes[j].Fee
		}
		return routes[i].Canonical < routes[j].Canonical
	})
	return routes, nil
}
