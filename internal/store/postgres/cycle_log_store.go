package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// CycleLogStore implements domain.CycleLogStore using PostgreSQL.
type CycleLogStore struct {
	pool *pgxpool.Pool
}

// NewCycleLogStore creates a new CycleLogStore backed by the given connection pool.
func NewCycleLogStore(pool *pgxpool.Pool) *CycleLogStore {
	return &CycleLogStore{pool: pool}
}

// Insert appends a cycle log.
func (s *CycleLogStore) Insert(ctx context.Context, l domain.CycleLog) error {
	stages, err := json.Marshal(l.Stages)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle stages: %w", err)
	}
	const query = `
		INSERT INTO cycle_logs (id, trigger, status, reason, stages, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		l.ID, string(l.Trigger), string(l.Status), l.Reason, stages, l.Error, l.StartedAt, l.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle log %s: %w", l.ID, err)
	}
	return nil
}

// List returns cycle logs newest first.
func (s *CycleLogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.CycleLog, error) {
	query, args := listClause(`SELECT id, trigger, status, reason, stages, error, started_at, finished_at
		FROM cycle_logs WHERE TRUE`, nil, "started_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycle logs: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleLog
	for rows.Next() {
		var l domain.CycleLog
		var stages []byte
		if err := rows.Scan(&l.ID, &l.Trigger, &l.Status, &l.Reason, &stages, &l.Error, &l.StartedAt, &l.FinishedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle log: %w", err)
		}
		if err := json.Unmarshal(stages, &l.Stages); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal cycle stages %s: %w", l.ID, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cycle logs rows: %w", err)
	}
	return out, nil
}

var _ domain.CycleLogStore = (*CycleLogStore)(nil)
