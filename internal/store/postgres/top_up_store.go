package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// TopUpStore implements domain.TopUpStore using PostgreSQL.
type TopUpStore struct {
	pool *pgxpool.Pool
}

// NewTopUpStore creates a new TopUpStore backed by the given connection pool.
func NewTopUpStore(pool *pgxpool.Pool) *TopUpStore {
	return &TopUpStore{pool: pool}
}

// Record appends a top-up log row.
func (s *TopUpStore) Record(ctx context.Context, t domain.TopUp) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO top_ups (
			id, chain, network, source_kind, source_address, destination,
			amount, tx_signature, status, error, run_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, string(t.Chain), string(t.Network), string(t.SourceKind), t.SourceAddress, t.Destination,
		toNumeric(domain.OrZero(t.Amount)), t.TxSignature, string(t.Status), t.Error, t.RunID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record top-up %s: %w", t.ID, err)
	}
	return nil
}

// List returns top-ups newest first.
func (s *TopUpStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TopUp, error) {
	query, args := listClause(`SELECT id, chain, network, source_kind, source_address, destination,
		amount, tx_signature, status, error, run_id, created_at FROM top_ups WHERE TRUE`, nil, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list top-ups: %w", err)
	}
	defer rows.Close()

	var out []domain.TopUp
	for rows.Next() {
		var t domain.TopUp
		var amount pgtype.Numeric
		if err := rows.Scan(
			&t.ID, &t.Chain, &t.Network, &t.SourceKind, &t.SourceAddress, &t.Destination,
			&amount, &t.TxSignature, &t.Status, &t.Error, &t.RunID, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan top-up: %w", err)
		}
		t.Amount = fromNumeric(amount)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list top-ups rows: %w", err)
	}
	return out, nil
}

var _ domain.TopUpStore = (*TopUpStore)(nil)
