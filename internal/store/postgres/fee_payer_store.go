package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// FeePayerStore implements domain.FeePayerStore using PostgreSQL.
type FeePayerStore struct {
	pool *pgxpool.Pool
}

// NewFeePayerStore creates a new FeePayerStore backed by the given connection pool.
func NewFeePayerStore(pool *pgxpool.Pool) *FeePayerStore {
	return &FeePayerStore{pool: pool}
}

const feePayerSelectCols = `id, address, chain, network, active, source, balance,
	balance_updated_at, usage_count, last_used_at, encrypted_key, created_at`

func scanFeePayer(row pgx.Row) (domain.FeePayer, error) {
	var fp domain.FeePayer
	var balance pgtype.Numeric
	if err := row.Scan(
		&fp.ID, &fp.Address, &fp.Chain, &fp.Network, &fp.Active, &fp.Source, &balance,
		&fp.BalanceUpdatedAt, &fp.UsageCount, &fp.LastUsedAt, &fp.EncryptedKey, &fp.CreatedAt,
	); err != nil {
		return domain.FeePayer{}, err
	}
	fp.Balance = fromNumeric(balance)
	return fp, nil
}

// Create inserts a fee payer. The (chain, address) pair is unique.
func (s *FeePayerStore) Create(ctx context.Context, fp domain.FeePayer) error {
	createdAt := fp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO fee_payers (id, address, chain, network, active, source, balance, encrypted_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query,
		fp.ID, fp.Address, string(fp.Chain), string(fp.Network), fp.Active, string(fp.Source),
		toNumeric(fp.Balance), fp.EncryptedKey, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create fee payer %s: %w", fp.Address, err)
	}
	return nil
}

// Get retrieves a fee payer by ID.
func (s *FeePayerStore) Get(ctx context.Context, id string) (domain.FeePayer, error) {
	fp, err := scanFeePayer(s.pool.QueryRow(ctx, `SELECT `+feePayerSelectCols+` FROM fee_payers WHERE id = $1`, id))
	if err != nil {
		if notFound(err) {
			return domain.FeePayer{}, domain.ErrNotFound
		}
		return domain.FeePayer{}, fmt.Errorf("postgres: get fee payer %s: %w", id, err)
	}
	return fp, nil
}

// List returns fee payers matching filter, oldest first.
func (s *FeePayerStore) List(ctx context.Context, filter domain.FeePayerFilter) ([]domain.FeePayer, error) {
	const query = `SELECT ` + feePayerSelectCols + ` FROM fee_payers
		WHERE ($1 = '' OR chain = $1) AND ($2 = '' OR network = $2) AND (NOT $3 OR active)
		ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, string(filter.Chain), string(filter.Network), filter.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fee payers: %w", err)
	}
	defer rows.Close()

	var out []domain.FeePayer
	for rows.Next() {
		fp, err := scanFeePayer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fee payer: %w", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fee payers rows: %w", err)
	}
	return out, nil
}

// UpdateBalance stores a freshly observed balance.
func (s *FeePayerStore) UpdateBalance(ctx context.Context, id string, balance *big.Int, at time.Time) error {
	return s.exec(ctx, "update fee payer balance", id,
		`UPDATE fee_payers SET balance = $2, balance_updated_at = $3 WHERE id = $1`, toNumeric(balance), at)
}

// MarkUsed bumps the usage counters of a fee payer.
func (s *FeePayerStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, "mark fee payer used", id,
		`UPDATE fee_payers SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`, at)
}

// SetActive activates or deactivates a fee payer.
func (s *FeePayerStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, "set fee payer active", id,
		`UPDATE fee_payers SET active = $2 WHERE id = $1`, active)
}

func (s *FeePayerStore) exec(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.FeePayerStore = (*FeePayerStore)(nil)
