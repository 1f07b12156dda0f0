package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// QuoteStore keeps the latest quote per exchange in one hash per symbol
// ("quotes:{symbol}", field = exchange id, value = JSON quote) and the set of
// quoted symbols in "quotes:symbols".
type QuoteStore struct {
	c *Client
}

func NewQuoteStore(c *Client) *QuoteStore {
	return &QuoteStore{c: c}
}

func (qs *QuoteStore) symbolKey(symbol string) string { return qs.c.Key("quotes", symbol) }
func (qs *QuoteStore) indexKey() string               { return qs.c.Key("quotes", "symbols") }

// Put overwrites the exchange's quote and indexes the symbol in one round trip.
func (qs *QuoteStore) Put(ctx context.Context, q domain.ExchangeQuote) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s/%s: %w", q.ExchangeID, q.Symbol, err)
	}
	pipe := qs.c.rdb.TxPipeline()
	pipe.HSet(ctx, qs.symbolKey(q.Symbol), q.ExchangeID, raw)
	pipe.SAdd(ctx, qs.indexKey(), q.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put quote %s/%s: %w", q.ExchangeID, q.Symbol, err)
	}
	return nil
}

// ListBySymbol returns every exchange's quote for symbol ordered by exchange id.
// Entries that fail to decode are skipped.
func (qs *QuoteStore) ListBySymbol(ctx context.Context, symbol string) ([]domain.ExchangeQuote, error) {
	vals, err := qs.c.rdb.HGetAll(ctx, qs.symbolKey(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: quotes for %s: %w", symbol, err)
	}
	out := make([]domain.ExchangeQuote, 0, len(vals))
	for _, raw := range vals {
		var q domain.ExchangeQuote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExchangeID < out[j].ExchangeID })
	return out, nil
}

func (qs *QuoteStore) Symbols(ctx context.Context) ([]string, error) {
	syms, err := qs.c.rdb.SMembers(ctx, qs.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: quoted symbols: %w", err)
	}
	sort.Strings(syms)
	return syms, nil
}

var _ domain.QuoteStore = (*QuoteStore)(nil)
