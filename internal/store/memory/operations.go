package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// OperationStore keeps operations keyed by ID.
type OperationStore struct {
	mu  sync.RWMutex
	ops map[string]domain.Operation
}

func NewOperationStore() *OperationStore {
	return &OperationStore{ops: make(map[string]domain.Operation)}
}

func (s *OperationStore) Create(_ context.Context, op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; ok {
		return fmt.Errorf("memory: create operation %s: %w", op.ID, domain.ErrAlreadyExists)
	}
	s.ops[op.ID] = cloneOperation(op)
	return nil
}

func (s *OperationStore) Update(_ context.Context, op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; !ok {
		return fmt.Errorf("memory: update operation %s: %w", op.ID, domain.ErrNotFound)
	}
	s.ops[op.ID] = cloneOperation(op)
	return nil
}

func (s *OperationStore) GetByID(_ context.Context, id string) (domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return domain.Operation{}, domain.ErrNotFound
	}
	return cloneOperation(op), nil
}

// List returns matching operations newest first.
func (s *OperationStore) List(_ context.Context, f domain.OperationFilter, opts domain.ListOpts) ([]domain.Operation, error) {
	s.mu.RLock()
	var out []domain.Operation
	for _, op := range s.ops {
		if f.Mode != "" && op.Mode != f.Mode {
			continue
		}
		if f.Status != "" && op.Status != f.Status {
			continue
		}
		if f.Symbol != "" && op.Symbol != f.Symbol {
			continue
		}
		if opts.Since != nil && op.UpdatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !op.UpdatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, cloneOperation(op))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func cloneOperation(op domain.Operation) domain.Operation {
	op.Legs = append([]domain.LegRecord(nil), op.Legs...)
	return op
}
