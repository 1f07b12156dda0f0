package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// AnalysisStore keeps one Analysis per symbol.
type AnalysisStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Analysis
}

func NewAnalysisStore() *AnalysisStore {
	return &AnalysisStore{rows: make(map[string]domain.Analysis)}
}

func (s *AnalysisStore) Upsert(_ context.Context, a domain.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.Symbol] = a
	return nil
}

func (s *AnalysisStore) Get(_ context.Context, symbol string) (domain.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[symbol]
	if !ok {
		return domain.Analysis{}, domain.ErrNotFound
	}
	return a, nil
}

// ListTop orders by spread descending, newest first on ties.
func (s *AnalysisStore) ListTop(_ context.Context, limit int) ([]domain.Analysis, error) {
	s.mu.RLock()
	out := make([]domain.Analysis, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SpreadPercent != out[j].SpreadPercent {
			return out[i].SpreadPercent > out[j].SpreadPercent
		}
		return out[i].ComputedAt.After(out[j].ComputedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *AnalysisStore) ListBefore(_ context.Context, before time.Time) ([]domain.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Analysis
	for _, a := range s.rows {
		if a.ComputedAt.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
