package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runSelectCols = `id, strategy_id, chain, network, purpose, status,
	input_amount, leg_a_out, leg_b_out, waterfall, estimated_profit, estimated_gas_cost,
	net_profit_bps, meets_thresholds, quote_simulated, venues,
	decision, decision_reason, auto_approved, decided_at,
	realized_profit, profit_drift, native_delta, residual_out_delta,
	tx_signature, fee_payer, error_message, flash_loan_used, created_at, finalized_at`

func scanRun(row pgx.Row) (domain.Run, error) {
	var r domain.Run
	var input, legA, legB, estProfit, estGas pgtype.Numeric
	var realized, drift, nativeDelta, residual pgtype.Numeric
	var waterfallJSON []byte
	if err := row.Scan(
		&r.ID, &r.StrategyID, &r.Chain, &r.Network, &r.Purpose, &r.Status,
		&input, &legA, &legB, &waterfallJSON, &estProfit, &estGas,
		&r.NetProfitBps, &r.MeetsThresholds, &r.QuoteSimulated, &r.Venues,
		&r.Decision, &r.DecisionReason, &r.AutoApproved, &r.DecidedAt,
		&realized, &drift, &nativeDelta, &residual,
		&r.TxSignature, &r.FeePayer, &r.ErrorMessage, &r.FlashLoanUsed, &r.CreatedAt, &r.FinalizedAt,
	); err != nil {
		return domain.Run{}, err
	}
	r.InputAmount = fromNumeric(input)
	r.LegAOut = fromNumeric(legA)
	r.LegBOut = fromNumeric(legB)
	r.EstimatedProfit = fromNumeric(estProfit)
	r.EstimatedGasCost = fromNumeric(estGas)
	r.RealizedProfit = fromNumeric(realized)
	r.ProfitDrift = fromNumeric(drift)
	r.NativeDelta = fromNumeric(nativeDelta)
	r.ResidualOutDelta = fromNumeric(residual)
	if len(waterfallJSON) > 0 {
		if err := json.Unmarshal(waterfallJSON, &r.Waterfall); err != nil {
			return domain.Run{}, fmt.Errorf("unmarshal waterfall: %w", err)
		}
	}
	return r, nil
}

func (s *RunStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Run, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

// Create inserts a new run.
func (s *RunStore) Create(ctx context.Context, r domain.Run) error {
	waterfallJSON, err := json.Marshal(r.Waterfall)
	if err != nil {
		return fmt.Errorf("postgres: marshal waterfall %s: %w", r.ID, err)
	}
	decision := r.Decision
	if decision == "" {
		decision = domain.DecisionPending
	}
	venues := r.Venues
	if venues == nil {
		venues = []string{}
	}

	const query = `
		INSERT INTO runs (
			id, strategy_id, chain, network, purpose, status,
			input_amount, leg_a_out, leg_b_out, waterfall, estimated_profit, estimated_gas_cost,
			net_profit_bps, meets_thresholds, quote_simulated, venues,
			decision, decision_reason, error_message, created_at, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.StrategyID, string(r.Chain), string(r.Network), string(r.Purpose), string(r.Status),
		toNumeric(r.InputAmount), toNumeric(r.LegAOut), toNumeric(r.LegBOut), waterfallJSON,
		toNumeric(r.EstimatedProfit), toNumeric(r.EstimatedGasCost),
		r.NetProfitBps, r.MeetsThresholds, r.QuoteSimulated, venues,
		string(decision), r.DecisionReason, r.ErrorMessage, r.CreatedAt, r.FinalizedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create run %s: %w", r.ID, err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if notFound(err) {
			return domain.Run{}, domain.ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// ListPendingDecision returns simulated runs awaiting a decision, oldest first.
func (s *RunStore) ListPendingDecision(ctx context.Context) ([]domain.Run, error) {
	return s.query(ctx, "list pending runs",
		`SELECT `+runSelectCols+` FROM runs WHERE status = $1 AND decision = $2 ORDER BY created_at, id`,
		string(domain.RunSimulated), string(domain.DecisionPending),
	)
}

// ListApproved returns approved runs not yet finalized, oldest first.
func (s *RunStore) ListApproved(ctx context.Context, autoOnly bool) ([]domain.Run, error) {
	return s.query(ctx, "list approved runs",
		`SELECT `+runSelectCols+` FROM runs
		WHERE status = $1 AND decision = $2 AND (NOT $3 OR auto_approved)
		ORDER BY created_at, id`,
		string(domain.RunSimulated), string(domain.DecisionApproved), autoOnly,
	)
}

// CountApprovedPending counts approved runs awaiting execution.
func (s *RunStore) CountApprovedPending(ctx context.Context, strategyID string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM runs
		WHERE status = $1 AND decision = $2 AND created_at >= $3
		  AND ($4 = '' OR strategy_id = $4)`
	var n int
	err := s.pool.QueryRow(ctx, query,
		string(domain.RunSimulated), string(domain.DecisionApproved), since, strategyID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count approved runs: %w", err)
	}
	return n, nil
}

// MarkDecision records a decision on a pending run.
func (s *RunStore) MarkDecision(ctx context.Context, id string, decision domain.Decision, reason string, auto bool, at time.Time) error {
	const query = `
		UPDATE runs SET decision = $2, decision_reason = $3, auto_approved = $4, decided_at = $5
		WHERE id = $1 AND status = $6 AND decision = $7`
	tag, err := s.pool.Exec(ctx, query,
		id, string(decision), reason, auto, at,
		string(domain.RunSimulated), string(domain.DecisionPending),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark decision %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

// Finalize moves a SIMULATED run to a terminal status.
func (s *RunStore) Finalize(ctx context.Context, id string, f domain.RunFinalization) error {
	var (
		waterfallJSON []byte
		estGas        *pgtype.Numeric
		netBps        *int64
		meets         *bool
	)
	if f.Waterfall != nil {
		var err error
		if waterfallJSON, err = json.Marshal(f.Waterfall); err != nil {
			return fmt.Errorf("postgres: marshal waterfall %s: %w", id, err)
		}
		gas := toNumeric(f.Waterfall.GasCost())
		estGas = &gas
		netBps = &f.Waterfall.NetBps
		meets = &f.Waterfall.MeetsThresholds
	}

	const query = `
		UPDATE runs SET
			status             = $2,
			waterfall          = COALESCE($3, waterfall),
			estimated_gas_cost = COALESCE($4, estimated_gas_cost),
			net_profit_bps     = COALESCE($5, net_profit_bps),
			meets_thresholds   = COALESCE($6, meets_thresholds),
			estimated_profit   = COALESCE($7, estimated_profit),
			realized_profit    = $8,
			profit_drift       = $9,
			native_delta       = $10,
			residual_out_delta = $11,
			tx_signature       = $12,
			fee_payer          = $13,
			error_message      = $14,
			flash_loan_used    = $15,
			finalized_at       = $16
		WHERE id = $1 AND status = $17`
	tag, err := s.pool.Exec(ctx, query,
		id, string(f.Status), waterfallJSON, estGas, netBps, meets, toNumeric(f.EstimatedProfit),
		toNumeric(f.RealizedProfit), toNumeric(f.ProfitDrift), toNumeric(f.NativeDelta), toNumeric(f.ResidualOutDelta),
		f.TxSignature, f.FeePayer, f.ErrorMessage, f.FlashLoanUsed, f.FinalizedAt,
		string(domain.RunSimulated),
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

// List returns runs matching filter, newest first.
func (s *RunStore) List(ctx context.Context, filter domain.RunFilter, opts domain.ListOpts) ([]domain.Run, error) {
	query := `SELECT ` + runSelectCols + ` FROM runs WHERE TRUE`
	var args []any
	if filter.StrategyID != "" {
		args = append(args, filter.StrategyID)
		query += fmt.Sprintf(" AND strategy_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Decision != "" {
		args = append(args, string(filter.Decision))
		query += fmt.Sprintf(" AND decision = $%d", len(args))
	}
	query, args = listClause(query, args, "created_at", opts)
	return s.query(ctx, "list runs", query, args...)
}

func (s *RunStore) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM runs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check run %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

var _ domain.RunStore = (*RunStore)(nil)
