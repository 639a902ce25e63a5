package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// SettingsStore is an in-memory domain.SettingsStore with version checks.
type SettingsStore struct {
	mu      sync.Mutex
	current *domain.Settings
}

// NewSettingsStore creates an uninitialized settings store.
func NewSettingsStore() *SettingsStore { return &SettingsStore{} }

func (s *SettingsStore) Get(_ context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Settings{}, domain.ErrNotFound
	}
	return s.current.Clone(), nil
}

// Init stores defaults unless a row already exists.
func (s *SettingsStore) Init(_ context.Context, defaults domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil
	}
	d := defaults.Clone()
	d.Version = 1
	d.UpdatedAt = time.Now().UTC()
	s.current = &d
	return nil
}

func (s *SettingsStore) Update(_ context.Context, expectedVersion int64, next domain.Settings) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Settings{}, domain.ErrNotFound
	}
	if s.current.Version != expectedVersion {
		return domain.Settings{}, domain.ErrConflict
	}
	n := next.Clone()
	n.Version = expectedVersion + 1
	n.UpdatedAt = time.Now().UTC()
	s.current = &n
	return n.Clone(), nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
