package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// RunStore is an in-memory domain.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]domain.Run
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{data: make(map[string]domain.Run)}
}

func (s *RunStore) Create(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[run.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if run.Decision == "" {
		run.Decision = domain.DecisionPending
	}
	s.data[run.ID] = run
	return nil
}

func (s *RunStore) Get(_ context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *RunStore) ListPendingDecision(_ context.Context) ([]domain.Run, error) {
	return s.filter(func(r domain.Run) bool {
		return r.Status == domain.RunSimulated && r.Decision == domain.DecisionPending
	}), nil
}

func (s *RunStore) ListApproved(_ context.Context, autoOnly bool) ([]domain.Run, error) {
	return s.filter(func(r domain.Run) bool {
		return r.Status == domain.RunSimulated && r.Decision == domain.DecisionApproved && (!autoOnly || r.AutoApproved)
	}), nil
}

func (s *RunStore) CountApprovedPending(_ context.Context, strategyID string, since time.Time) (int, error) {
	return len(s.filter(func(r domain.Run) bool {
		return r.Status == domain.RunSimulated &&
			r.Decision == domain.DecisionApproved &&
			(strategyID == "" || r.StrategyID == strategyID) &&
			!r.CreatedAt.Before(since)
	})), nil
}

func (s *RunStore) MarkDecision(_ context.Context, id string, decision domain.Decision, reason string, auto bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.RunSimulated || r.Decision != domain.DecisionPending {
		return domain.ErrConflict
	}
	r.Decision = decision
	r.DecisionReason = reason
	r.AutoApproved = auto
	r.DecidedAt = &at
	s.data[id] = r
	return nil
}

func (s *RunStore) Finalize(_ context.Context, id string, f domain.RunFinalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.RunSimulated {
		return domain.ErrConflict
	}
	r.Status = f.Status
	if f.Waterfall != nil {
		r.Waterfall = *f.Waterfall
		r.EstimatedGasCost = f.Waterfall.GasCost()
		r.NetProfitBps = f.Waterfall.NetBps
		r.MeetsThresholds = f.Waterfall.MeetsThresholds
	}
	if f.EstimatedProfit != nil {
		r.EstimatedProfit = f.EstimatedProfit
	}
	r.RealizedProfit = f.RealizedProfit
	r.ProfitDrift = f.ProfitDrift
	r.NativeDelta = f.NativeDelta
	r.ResidualOutDelta = f.ResidualOutDelta
	r.TxSignature = f.TxSignature
	r.FeePayer = f.FeePayer
	r.ErrorMessage = f.ErrorMessage
	r.FlashLoanUsed = f.FlashLoanUsed
	at := f.FinalizedAt
	r.FinalizedAt = &at
	s.data[id] = r
	return nil
}

func (s *RunStore) List(_ context.Context, filter domain.RunFilter, opts domain.ListOpts) ([]domain.Run, error) {
	out := s.filter(func(r domain.Run) bool {
		if filter.StrategyID != "" && r.StrategyID != filter.StrategyID {
			return false
		}
		if filter.Status != "" && r.Status != filter.Status {
			return false
		}
		if filter.Decision != "" && r.Decision != filter.Decision {
			return false
		}
		return inRange(r.CreatedAt, opts)
	})
	// Newest first.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// filter returns matching runs oldest first.
func (s *RunStore) filter(keep func(domain.Run) bool) []domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Run
	for _, r := range s.data {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.RunStore = (*RunStore)(nil)
