// Package memory implements the domain stores, locks and bus in process.
// It backs tests and single-instance deployments without Postgres or Redis.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// StrategyStore is an in-memory domain.StrategyStore.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[string]domain.Strategy
}

// NewStrategyStore creates an empty strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{data: make(map[string]domain.Strategy)}
}

func (s *StrategyStore) Get(_ context.Context, id string) (domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[id]
	if !ok {
		return domain.Strategy{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *StrategyStore) List(_ context.Context) ([]domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Strategy, 0, len(s.data))
	for _, st := range s.data {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *StrategyStore) Upsert(_ context.Context, st domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.data[st.ID]; ok {
		st.CreatedAt = prev.CreatedAt
	} else if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	s.data[st.ID] = st
	return nil
}

func (s *StrategyStore) UpdateRiskLimits(_ context.Context, id string, limits domain.RiskLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	st.Risk = limits
	st.UpdatedAt = time.Now().UTC()
	s.data[id] = st
	return nil
}

func (s *StrategyStore) SetEnabled(_ context.Context, id string, enabled, autoEnabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	st.Enabled = enabled
	st.AutoEnabled = autoEnabled
	st.UpdatedAt = time.Now().UTC()
	s.data[id] = st
	return nil
}

var _ domain.StrategyStore = (*StrategyStore)(nil)
