package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// FeePayerStore is an in-memory domain.FeePayerStore.
type FeePayerStore struct {
	mu   sync.RWMutex
	data map[string]domain.FeePayer
}

// NewFeePayerStore creates an empty fee payer store.
func NewFeePayerStore() *FeePayerStore {
	return &FeePayerStore{data: make(map[string]domain.FeePayer)}
}

func (s *FeePayerStore) Create(_ context.Context, fp domain.FeePayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.data {
		if existing.ID == fp.ID || (existing.Chain == fp.Chain && existing.Address == fp.Address) {
			return domain.ErrAlreadyExists
		}
	}
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = time.Now().UTC()
	}
	s.data[fp.ID] = fp
	return nil
}

func (s *FeePayerStore) Get(_ context.Context, id string) (domain.FeePayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.data[id]
	if !ok {
		return domain.FeePayer{}, domain.ErrNotFound
	}
	return fp, nil
}

func (s *FeePayerStore) List(_ context.Context, filter domain.FeePayerFilter) ([]domain.FeePayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FeePayer
	for _, fp := range s.data {
		if filter.Chain != "" && fp.Chain != filter.Chain {
			continue
		}
		if filter.Network != "" && fp.Network != filter.Network {
			continue
		}
		if filter.ActiveOnly && !fp.Active {
			continue
		}
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FeePayerStore) UpdateBalance(_ context.Context, id string, balance *big.Int, at time.Time) error {
	return s.update(id, func(fp *domain.FeePayer) {
		fp.Balance = domain.Copy(balance)
		fp.BalanceUpdatedAt = &at
	})
}

func (s *FeePayerStore) MarkUsed(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(fp *domain.FeePayer) {
		fp.UsageCount++
		fp.LastUsedAt = &at
	})
}

func (s *FeePayerStore) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(fp *domain.FeePayer) { fp.Active = active })
}

func (s *FeePayerStore) update(id string, fn func(*domain.FeePayer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&fp)
	s.data[id] = fp
	return nil
}

var _ domain.FeePayerStore = (*FeePayerStore)(nil)

// TopUpStore is an in-memory domain.TopUpStore.
type TopUpStore struct {
	mu   sync.RWMutex
	rows []domain.TopUp
}

// NewTopUpStore creates an empty top-up log.
func NewTopUpStore() *TopUpStore { return &TopUpStore{} }

func (s *TopUpStore) Record(_ context.Context, t domain.TopUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, t)
	return nil
}

func (s *TopUpStore) List(_ context.Context, opts domain.ListOpts) ([]domain.TopUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TopUp
	for i := len(s.rows) - 1; i >= 0; i-- {
		if inRange(s.rows[i].CreatedAt, opts) {
			out = append(out, s.rows[i])
		}
	}
	return page(out, opts), nil
}

var _ domain.TopUpStore = (*TopUpStore)(nil)
