package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/shopspring/decimal"
)

type balanceKey struct {
	mode     domain.Mode
	exchange string
}

// BalanceStore keeps ledger entries and the set of applied mutation refs.
type BalanceStore struct {
	mu      sync.Mutex
	entries map[balanceKey]domain.BalanceEntry
	applied map[string]struct{}
	now     func() time.Time
}

func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		entries: make(map[balanceKey]domain.BalanceEntry),
		applied: make(map[string]struct{}),
		now:     time.Now,
	}
}

func (s *BalanceStore) Apply(_ context.Context, m domain.BalanceMutation) (domain.BalanceEntry, error) {
	if err := m.Validate(); err != nil {
		return domain.BalanceEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balanceKey{m.Mode, m.ExchangeID}
	entry, ok := s.entries[key]
	if m.Ref != "" {
		if _, done := s.applied[m.Ref]; done {
			if !ok {
				return domain.BalanceEntry{}, domain.ErrNotFound
			}
			return cloneEntry(entry), nil
		}
	}
	if !ok {
		if !m.Kind.CreatesEntry() {
			if m.Kind == domain.MutationReserve {
				return domain.BalanceEntry{}, domain.ErrInsufficientBalance
			}
			return domain.BalanceEntry{}, fmt.Errorf("memory: %s %s/%s: %w", m.Kind, m.Mode, m.ExchangeID, domain.ErrNotFound)
		}
		entry = domain.NewBalanceEntry(m.Mode, m.ExchangeID)
		entry.IsPrimary = m.Kind == domain.MutationFund && !s.hasPrimary(m.Mode)
	}

	next, err := entry.Apply(m)
	if err != nil {
		return domain.BalanceEntry{}, err
	}
	next.UpdatedAt = s.now()
	s.entries[key] = next
	if m.Ref != "" {
		s.applied[m.Ref] = struct{}{}
	}
	return cloneEntry(next), nil
}

func (s *BalanceStore) hasPrimary(mode domain.Mode) bool {
	for k, e := range s.entries {
		if k.mode == mode && e.IsPrimary {
			return true
		}
	}
	return false
}

func (s *BalanceStore) Get(_ context.Context, mode domain.Mode, exchangeID string) (domain.BalanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[balanceKey{mode, exchangeID}]
	if !ok {
		return domain.BalanceEntry{}, domain.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *BalanceStore) List(_ context.Context, mode domain.Mode) ([]domain.BalanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BalanceEntry
	for k, e := range s.entries {
		if k.mode == mode {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExchangeID < out[j].ExchangeID })
	return out, nil
}

// SetPrimary moves the primary flag within mode to exchangeID.
func (s *BalanceStore) SetPrimary(_ context.Context, mode domain.Mode, exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.entries[balanceKey{mode, exchangeID}]
	if !ok {
		return domain.ErrNotFound
	}
	for k, e := range s.entries {
		if k.mode == mode && e.IsPrimary {
			e.IsPrimary = false
			s.entries[k] = e
		}
	}
	target.IsPrimary = true
	target.UpdatedAt = s.now()
	s.entries[balanceKey{mode, exchangeID}] = target
	return nil
}

func (s *BalanceStore) Deactivate(_ context.Context, mode domain.Mode, exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey{mode, exchangeID}
	e, ok := s.entries[key]
	if !ok {
		return domain.ErrNotFound
	}
	e.IsActive = false
	e.UpdatedAt = s.now()
	s.entries[key] = e
	return nil
}

func cloneEntry(e domain.BalanceEntry) domain.BalanceEntry {
	assets := make(map[string]decimal.Decimal, len(e.Assets))
	for k, v := range e.Assets {
		assets[k] = v
	}
	e.Assets = assets
	return e
}
