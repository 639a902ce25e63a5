package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// AlertNotifier forwards alerts to operator channels.
type AlertNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AlertService raises and acknowledges operator alerts. An open alert with
// the same key suppresses new ones.
type AlertService struct {
	store    domain.AlertStore
	bus      domain.SignalBus
	notifier AlertNotifier
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewAlertService creates an AlertService. bus and notifier may be nil.
func NewAlertService(store domain.AlertStore, bus domain.SignalBus, notifier AlertNotifier, logger *slog.Logger) *AlertService {
	return &AlertService{
		store:    store,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// Raise stores a new alert unless one with the same key is still open. It
// reports whether a new alert was created.
func (s *AlertService) Raise(ctx context.Context, a domain.Alert) (domain.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Key != "" {
		open, err := s.store.ListOpen(ctx)
		if err != nil {
			return domain.Alert{}, false, fmt.Errorf("alert_service: list open: %w", err)
		}
		for _, existing := range open {
			if existing.Key == a.Key {
				return existing, false, nil
			}
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := s.store.Create(ctx, a); err != nil {
		return domain.Alert{}, false, fmt.Errorf("alert_service: create: %w", err)
	}

	s.logger.WarnContext(ctx, "alert raised",
		slog.String("kind", string(a.Kind)),
		slog.String("severity", string(a.Severity)),
		slog.String("key", a.Key),
		slog.String("message", a.Message),
	)
	publish(ctx, s.bus, s.logger, domain.ChannelAlert, "alert_raised", a)
	if s.notifier != nil {
		title := fmt.Sprintf("[%s] %s", a.Severity, a.Kind)
		if err := s.notifier.Notify(ctx, string(a.Kind), title, a.Message); err != nil {
			s.logger.WarnContext(ctx, "alert notification failed", slog.String("error", err.Error()))
		}
	}
	return a, true, nil
}

// AcknowledgeAll closes every open alert on behalf of operator.
func (s *AlertService) AcknowledgeAll(ctx context.Context, operator string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.store.AcknowledgeAll(ctx, operator, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("alert_service: acknowledge: %w", err)
	}
	if n > 0 {
		publish(ctx, s.bus, s.logger, domain.ChannelAlert, "alerts_acknowledged", map[string]any{"count": n, "by": operator})
	}
	return n, nil
}

// ListOpen returns unacknowledged alerts.
func (s *AlertService) ListOpen(ctx context.Context) ([]domain.Alert, error) {
	return s.store.ListOpen(ctx)
}

// List returns alerts newest first.
func (s *AlertService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Alert, error) {
	return s.store.List(ctx, opts)
}
