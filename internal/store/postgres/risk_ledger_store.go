package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// RiskLedgerStore implements domain.RiskLedgerStore using PostgreSQL.
type RiskLedgerStore struct {
	pool *pgxpool.Pool
}

// NewRiskLedgerStore creates a new RiskLedgerStore backed by the given connection pool.
func NewRiskLedgerStore(pool *pgxpool.Pool) *RiskLedgerStore {
	return &RiskLedgerStore{pool: pool}
}

// Get returns the ledger of a strategy for the UTC day containing day. A
// missing row reads as an empty ledger.
func (s *RiskLedgerStore) Get(ctx context.Context, strategyID string, chain domain.Chain, day time.Time) (domain.DailyRiskLedger, error) {
	d := domain.LedgerDay(day)
	l := domain.DailyRiskLedger{StrategyID: strategyID, Chain: chain, Day: d, RealizedPnL: domain.Zero()}

	const query = `
		SELECT trade_count, realized_pnl, updated_at FROM risk_ledgers
		WHERE strategy_id = $1 AND chain = $2 AND day = $3`
	var pnl pgtype.Numeric
	err := s.pool.QueryRow(ctx, query, strategyID, string(chain), d).Scan(&l.TradeCount, &pnl, &l.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return l, nil
		}
		return domain.DailyRiskLedger{}, fmt.Errorf("postgres: get ledger %s: %w", strategyID, err)
	}
	l.RealizedPnL = domain.OrZero(fromNumeric(pnl))
	return l, nil
}

// Record atomically adds one trade and its PnL to the day's ledger.
func (s *RiskLedgerStore) Record(ctx context.Context, strategyID string, chain domain.Chain, day time.Time, pnl *big.Int) (domain.DailyRiskLedger, error) {
	d := domain.LedgerDay(day)
	const query = `
		INSERT INTO risk_ledgers (strategy_id, chain, day, trade_count, realized_pnl, updated_at)
		VALUES ($1, $2, $3, 1, $4, NOW())
		ON CONFLICT (strategy_id, chain, day) DO UPDATE SET
			trade_count  = risk_ledgers.trade_count + 1,
			realized_pnl = risk_ledgers.realized_pnl + EXCLUDED.realized_pnl,
			updated_at   = NOW()
		RETURNING trade_count, realized_pnl, updated_at`

	l := domain.DailyRiskLedger{StrategyID: strategyID, Chain: chain, Day: d}
	var total pgtype.Numeric
	err := s.pool.QueryRow(ctx, query, strategyID, string(chain), d, toNumeric(domain.OrZero(pnl))).
		Scan(&l.TradeCount, &total, &l.UpdatedAt)
	if err != nil {
		return domain.DailyRiskLedger{}, fmt.Errorf("postgres: record ledger %s: %w", strategyID, err)
	}
	l.RealizedPnL = domain.OrZero(fromNumeric(total))
	return l, nil
}

// Totals sums every ledger of the day.
func (s *RiskLedgerStore) Totals(ctx context.Context, day time.Time) (domain.DailyTotals, error) {
	d := domain.LedgerDay(day)
	const query = `
		SELECT COALESCE(SUM(trade_count), 0), COALESCE(SUM(realized_pnl), 0)
		FROM risk_ledgers WHERE day = $1`
	out := domain.DailyTotals{Day: d}
	var pnl pgtype.Numeric
	if err := s.pool.QueryRow(ctx, query, d).Scan(&out.TradeCount, &pnl); err != nil {
		return domain.DailyTotals{}, fmt.Errorf("postgres: ledger totals: %w", err)
	}
	out.RealizedPnL = domain.OrZero(fromNumeric(pnl))
	return out, nil
}

var _ domain.RiskLedgerStore = (*RiskLedgerStore)(nil)
