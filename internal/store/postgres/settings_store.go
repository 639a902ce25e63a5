package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// SettingsStore implements domain.SettingsStore as a single JSONB row
// guarded by a version column.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

func (s *SettingsStore) Get(ctx context.Context) (domain.Settings, error) {
	var (
		data []byte
		out  domain.Settings
	)
	err := s.pool.QueryRow(ctx, `SELECT data, version, updated_at FROM settings WHERE id = 1`).
		Scan(&data, &out.Version, &out.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return domain.Settings{}, domain.ErrNotFound
		}
		return domain.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}
	version, updatedAt := out.Version, out.UpdatedAt
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.Settings{}, fmt.Errorf("postgres: unmarshal settings: %w", err)
	}
	out.Version, out.UpdatedAt = version, updatedAt
	return out, nil
}

// Init writes defaults at version 1 unless the row exists.
func (s *SettingsStore) Init(ctx context.Context, defaults domain.Settings) error {
	data, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("postgres: marshal settings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (id, data, version, updated_at) VALUES (1, $1, 1, NOW()) ON CONFLICT (id) DO NOTHING`,
		data,
	)
	if err != nil {
		return fmt.Errorf("postgres: init settings: %w", err)
	}
	return nil
}

// Update writes next if the stored version still equals expectedVersion.
func (s *SettingsStore) Update(ctx context.Context, expectedVersion int64, next domain.Settings) (domain.Settings, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("postgres: marshal settings: %w", err)
	}
	const query = `
		UPDATE settings SET data = $1, version = version + 1, updated_at = NOW()
		WHERE id = 1 AND version = $2
		RETURNING version, updated_at`
	out := next.Clone()
	err = s.pool.QueryRow(ctx, query, data, expectedVersion).Scan(&out.Version, &out.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return domain.Settings{}, domain.ErrConflict
		}
		return domain.Settings{}, fmt.Errorf("postgres: update settings: %w", err)
	}
	return out, nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
