package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type ledgerKey struct {
	strategyID string
	chain      domain.Chain
	day        string
}

// RiskLedgerStore is an in-memory domain.RiskLedgerStore.
type RiskLedgerStore struct {
	mu   sync.Mutex
	data map[ledgerKey]domain.DailyRiskLedger
}

// NewRiskLedgerStore creates an empty ledger store.
func NewRiskLedgerStore() *RiskLedgerStore {
	return &RiskLedgerStore{data: make(map[ledgerKey]domain.DailyRiskLedger)}
}

func (s *RiskLedgerStore) key(strategyID string, chain domain.Chain, day time.Time) ledgerKey {
	return ledgerKey{strategyID: strategyID, chain: chain, day: domain.LedgerDay(day).Format(time.DateOnly)}
}

func (s *RiskLedgerStore) Get(_ context.Context, strategyID string, chain domain.Chain, day time.Time) (domain.DailyRiskLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data[s.key(strategyID, chain, day)]
	if !ok {
		return domain.DailyRiskLedger{
			StrategyID:  strategyID,
			Chain:       chain,
			Day:         domain.LedgerDay(day),
			RealizedPnL: domain.Zero(),
		}, nil
	}
	return l, nil
}

func (s *RiskLedgerStore) Record(_ context.Context, strategyID string, chain domain.Chain, day time.Time, pnl *big.Int) (domain.DailyRiskLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(strategyID, chain, day)
	l, ok := s.data[k]
	if !ok {
		l = domain.DailyRiskLedger{StrategyID: strategyID, Chain: chain, Day: domain.LedgerDay(day), RealizedPnL: domain.Zero()}
	}
	l.TradeCount++
	l.RealizedPnL = domain.Add(l.RealizedPnL, pnl)
	l.UpdatedAt = time.Now().UTC()
	s.data[k] = l
	return l, nil
}

func (s *RiskLedgerStore) Totals(_ context.Context, day time.Time) (domain.DailyTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := domain.LedgerDay(day)
	want := d.Format(time.DateOnly)
	out := domain.DailyTotals{Day: d, RealizedPnL: domain.Zero()}
	for k, l := range s.data {
		if k.day != want {
			continue
		}
		out.TradeCount += l.TradeCount
		out.RealizedPnL = domain.Add(out.RealizedPnL, l.RealizedPnL)
	}
	return out, nil
}

var _ domain.RiskLedgerStore = (*RiskLedgerStore)(nil)
