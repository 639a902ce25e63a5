package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const strategySelectCols = `id, name, chain, network, token_in, token_out, token_in_decimals,
	trade_amount, leg_a_venues, leg_b_venues, slippage_bps, enabled, auto_enabled,
	risk, flash_loan, tags, created_at, updated_at`

func scanStrategy(row pgx.Row) (domain.Strategy, error) {
	var (
		st        domain.Strategy
		amount    pgtype.Numeric
		riskJSON  []byte
		flashJSON []byte
	)
	if err := row.Scan(
		&st.ID, &st.Name, &st.Chain, &st.Network, &st.TokenIn, &st.TokenOut, &st.TokenInDecimals,
		&amount, &st.LegAVenues, &st.LegBVenues, &st.SlippageBps, &st.Enabled, &st.AutoEnabled,
		&riskJSON, &flashJSON, &st.Tags, &st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		return domain.Strategy{}, err
	}
	st.TradeAmount = fromNumeric(amount)
	if len(riskJSON) > 0 {
		if err := json.Unmarshal(riskJSON, &st.Risk); err != nil {
			return domain.Strategy{}, fmt.Errorf("unmarshal risk: %w", err)
		}
	}
	if len(flashJSON) > 0 && string(flashJSON) != "null" {
		st.FlashLoan = &domain.FlashLoanConfig{}
		if err := json.Unmarshal(flashJSON, st.FlashLoan); err != nil {
			return domain.Strategy{}, fmt.Errorf("unmarshal flash loan: %w", err)
		}
	}
	return st, nil
}

// Get retrieves a strategy by ID.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.Strategy, error) {
	query := `SELECT ` + strategySelectCols + ` FROM strategies WHERE id = $1`
	st, err := scanStrategy(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if notFound(err) {
			return domain.Strategy{}, domain.ErrNotFound
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return st, nil
}

// List returns all strategies ordered by ID.
func (s *StrategyStore) List(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+strategySelectCols+` FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a strategy, keeping its original created_at.
func (s *StrategyStore) Upsert(ctx context.Context, st domain.Strategy) error {
	riskJSON, err := json.Marshal(st.Risk)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk %s: %w", st.ID, err)
	}
	var flashJSON []byte
	if st.FlashLoan != nil {
		if flashJSON, err = json.Marshal(st.FlashLoan); err != nil {
			return fmt.Errorf("postgres: marshal flash loan %s: %w", st.ID, err)
		}
	}

	const query = `
		INSERT INTO strategies (
			id, name, chain, network, token_in, token_out, token_in_decimals,
			trade_amount, leg_a_venues, leg_b_venues, slippage_bps, enabled, auto_enabled,
			risk, flash_loan, tags, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name              = EXCLUDED.name,
			chain             = EXCLUDED.chain,
			network           = EXCLUDED.network,
			token_in          = EXCLUDED.token_in,
			token_out         = EXCLUDED.token_out,
			token_in_decimals = EXCLUDED.token_in_decimals,
			trade_amount      = EXCLUDED.trade_amount,
			leg_a_venues      = EXCLUDED.leg_a_venues,
			leg_b_venues      = EXCLUDED.leg_b_venues,
			slippage_bps      = EXCLUDED.slippage_bps,
			enabled           = EXCLUDED.enabled,
			auto_enabled      = EXCLUDED.auto_enabled,
			risk              = EXCLUDED.risk,
			flash_loan        = EXCLUDED.flash_loan,
			tags              = EXCLUDED.tags,
			updated_at        = NOW()`

	_, err = s.pool.Exec(ctx, query,
		st.ID, st.Name, string(st.Chain), string(st.Network), st.TokenIn, st.TokenOut, st.TokenInDecimals,
		toNumeric(domain.OrZero(st.TradeAmount)), nonNil(st.LegAVenues), nonNil(st.LegBVenues), st.SlippageBps,
		st.Enabled, st.AutoEnabled, riskJSON, flashJSON, nonNil(st.Tags),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy %s: %w", st.ID, err)
	}
	return nil
}

// UpdateRiskLimits replaces the risk limits of a strategy.
func (s *StrategyStore) UpdateRiskLimits(ctx context.Context, id string, limits domain.RiskLimits) error {
	riskJSON, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk %s: %w", id, err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE strategies SET risk = $2, updated_at = NOW() WHERE id = $1`, id, riskJSON)
	if err != nil {
		return fmt.Errorf("postgres: update risk limits %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetEnabled toggles scanning and auto-approval of a strategy.
func (s *StrategyStore) SetEnabled(ctx context.Context, id string, enabled, autoEnabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET enabled = $2, auto_enabled = $3, updated_at = NOW() WHERE id = $1`,
		id, enabled, autoEnabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: set enabled %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var _ domain.StrategyStore = (*StrategyStore)(nil)
