// Package memory provides in-process implementations of the domain stores
// for local mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// QuoteStore keeps the latest quote per (symbol, exchange).
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]map[string]domain.ExchangeQuote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]map[string]domain.ExchangeQuote)}
}

func (s *QuoteStore) Put(_ context.Context, q domain.ExchangeQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySymbol, ok := s.quotes[q.Symbol]
	if !ok {
		bySymbol = make(map[string]domain.ExchangeQuote)
		s.quotes[q.Symbol] = bySymbol
	}
	bySymbol[q.ExchangeID] = q
	return nil
}

func (s *QuoteStore) ListBySymbol(_ context.Context, symbol string) ([]domain.ExchangeQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ExchangeQuote, 0, len(s.quotes[symbol]))
	for _, q := range s.quotes[symbol] {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExchangeID < out[j].ExchangeID })
	return out, nil
}

func (s *QuoteStore) Symbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}
