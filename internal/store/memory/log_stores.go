package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// CycleLogStore is an in-memory domain.CycleLogStore.
type CycleLogStore struct {
	mu   sync.RWMutex
	rows []domain.CycleLog
}

// NewCycleLogStore creates an empty cycle log store.
func NewCycleLogStore() *CycleLogStore { return &CycleLogStore{} }

func (s *CycleLogStore) Insert(_ context.Context, log domain.CycleLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, log)
	return nil
}

func (s *CycleLogStore) List(_ context.Context, opts domain.ListOpts) ([]domain.CycleLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CycleLog
	for i := len(s.rows) - 1; i >= 0; i-- {
		if inRange(s.rows[i].StartedAt, opts) {
			out = append(out, s.rows[i])
		}
	}
	return page(out, opts), nil
}

var _ domain.CycleLogStore = (*CycleLogStore)(nil)

// AlertStore is an in-memory domain.AlertStore.
type AlertStore struct {
	mu   sync.RWMutex
	rows []domain.Alert
}

// NewAlertStore creates an empty alert store.
func NewAlertStore() *AlertStore { return &AlertStore{} }

func (s *AlertStore) Create(_ context.Context, a domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, a)
	return nil
}

func (s *AlertStore) ListOpen(_ context.Context) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Alert
	for _, a := range s.rows {
		if a.Open() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *AlertStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Alert
	for i := len(s.rows) - 1; i >= 0; i-- {
		if inRange(s.rows[i].CreatedAt, opts) {
			out = append(out, s.rows[i])
		}
	}
	return page(out, opts), nil
}

func (s *AlertStore) AcknowledgeAll(_ context.Context, by string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.rows {
		if s.rows[i].Open() {
			ts := at
			s.rows[i].AcknowledgedAt = &ts
			s.rows[i].AcknowledgedBy = by
			n++
		}
	}
	return n, nil
}

var _ domain.AlertStore = (*AlertStore)(nil)

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu   sync.RWMutex
	rows []domain.AuditEntry
}

// NewAuditStore creates an empty audit log.
func NewAuditStore() *AuditStore { return &AuditStore{} }

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, domain.AuditEntry{
		ID:        int64(len(s.rows) + 1),
		Event:     event,
		Actor:     domain.AuditActor(detail),
		Detail:    maps.Clone(detail),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(s.rows) - 1; i >= 0; i-- {
		if inRange(s.rows[i].CreatedAt, opts) {
			out = append(out, s.rows[i])
		}
	}
	return page(out, opts), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
