package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, kind, severity, key, message, detail, created_at, acknowledged_at, acknowledged_by`

// Create inserts an alert.
func (s *AlertStore) Create(ctx context.Context, a domain.Alert) error {
	var detail []byte
	if a.Detail != nil {
		var err error
		if detail, err = json.Marshal(a.Detail); err != nil {
			return fmt.Errorf("postgres: marshal alert detail: %w", err)
		}
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO alerts (id, kind, severity, key, message, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Kind), string(a.Severity), a.Key, a.Message, detail, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create alert %s: %w", a.ID, err)
	}
	return nil
}

// ListOpen returns unacknowledged alerts oldest first.
func (s *AlertStore) ListOpen(ctx context.Context) ([]domain.Alert, error) {
	return s.query(ctx, `SELECT `+alertSelectCols+` FROM alerts WHERE acknowledged_at IS NULL ORDER BY created_at`)
}

// List returns alerts newest first.
func (s *AlertStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Alert, error) {
	query, args := listClause(`SELECT `+alertSelectCols+` FROM alerts WHERE TRUE`, nil, "created_at", opts)
	return s.query(ctx, query, args...)
}

// AcknowledgeAll acknowledges every open alert and returns how many.
func (s *AlertStore) AcknowledgeAll(ctx context.Context, by string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged_at = $1, acknowledged_by = $2 WHERE acknowledged_at IS NULL`,
		at, by,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: acknowledge alerts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *AlertStore) query(ctx context.Context, query string, args ...any) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var detail []byte
		if err := rows.Scan(
			&a.ID, &a.Kind, &a.Severity, &a.Key, &a.Message, &detail,
			&a.CreatedAt, &a.AcknowledgedAt, &a.AcknowledgedBy,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &a.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal alert detail %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alerts rows: %w", err)
	}
	return out, nil
}

var _ domain.AlertStore = (*AlertStore)(nil)
