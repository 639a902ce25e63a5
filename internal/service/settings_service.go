package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const maxSettingsRetries = 5

// SettingsService is the single writer of the global settings. Every
// mutation runs under one mutex and commits with a version check, retrying
// when another process won the race.
type SettingsService struct {
	store  domain.SettingsStore
	alerts *AlertService
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(
	store domain.SettingsStore,
	alerts *AlertService,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *SettingsService {
	return &SettingsService{
		store:  store,
		alerts: alerts,
		audit:  audit,
		bus:    bus,
		logger: logger.With(slog.String("component", "settings")),
	}
}

// Init seeds the settings row if it does not exist yet.
func (s *SettingsService) Init(ctx context.Context, defaults domain.Settings) error {
	if err := s.store.Init(ctx, defaults); err != nil {
		return fmt.Errorf("settings_service: init: %w", err)
	}
	return nil
}

// Get reads the current settings. Callers take one snapshot per cycle and
// pass it down.
func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	st, err := s.store.Get(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings_service: get: %w", err)
	}
	return st, nil
}

// Apply runs mutate on the latest settings and commits the result. mutate
// may be called more than once on conflict and must be side effect free.
// Returning errNoChange from mutate skips the write.
func (s *SettingsService) Apply(ctx context.Context, mutate func(*domain.Settings) error) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxSettingsRetries; attempt++ {
		cur, err := s.store.Get(ctx)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("settings_service: get: %w", err)
		}
		next := cur.Clone()
		if err := mutate(&next); err != nil {
			if errors.Is(err, errNoChange) {
				return cur, nil
			}
			return domain.Settings{}, err
		}
		updated, err := s.store.Update(ctx, cur.Version, next)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.DebugContext(ctx, "settings version conflict, retrying", slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return domain.Settings{}, fmt.Errorf("settings_service: update: %w", err)
		}
		publish(ctx, s.bus, s.logger, domain.ChannelSettings, "settings_updated", updated)
		return updated, nil
	}
	return domain.Settings{}, fmt.Errorf("settings_service: apply: %w", domain.ErrConflict)
}

var errNoChange = errors.New("no change")

// SetAutomation toggles unattended cycles.
func (s *SettingsService) SetAutomation(ctx context.Context, enabled bool, operator string) (domain.Settings, error) {
	out, err := s.Apply(ctx, func(st *domain.Settings) error {
		st.AutomationEnabled = enabled
		return nil
	})
	if err != nil {
		return domain.Settings{}, err
	}
	s.auditLog(ctx, "settings.automation", map[string]any{"enabled": enabled, "operator": operator})
	return out, nil
}

// SetFlashLoans toggles flash loan usage for strategies that configure one.
func (s *SettingsService) SetFlashLoans(ctx context.Context, enabled bool, operator string) (domain.Settings, error) {
	out, err := s.Apply(ctx, func(st *domain.Settings) error {
		st.FlashLoansEnabled = enabled
		return nil
	})
	if err != nil {
		return domain.Settings{}, err
	}
	s.auditLog(ctx, "settings.flash_loans", map[string]any{"enabled": enabled, "operator": operator})
	return out, nil
}

// TripSafeMode turns safe mode on. If it is already on the original reason
// and timestamp are kept, the trip is only counted, and tripped is false.
func (s *SettingsService) TripSafeMode(ctx context.Context, reason string) (settings domain.Settings, tripped bool, err error) {
	settings, err = s.Apply(ctx, func(st *domain.Settings) error {
		st.SafeModeTrips++
		tripped = !st.SafeMode
		if !tripped {
			return nil
		}
		now := time.Now().UTC()
		st.SafeMode = true
		st.SafeModeReason = reason
		st.SafeModeAt = &now
		st.SafeModeTrips = 1
		return nil
	})
	if err != nil {
		return domain.Settings{}, false, err
	}
	if tripped {
		s.logger.ErrorContext(ctx, "safe mode tripped", slog.String("reason", reason))
		s.auditLog(ctx, "safe_mode.trip", map[string]any{"reason": reason})
	} else {
		s.logger.WarnContext(ctx, "safe mode tripped while active",
			slog.String("reason", reason),
			slog.Int("trips", settings.SafeModeTrips),
		)
	}
	return settings, tripped, nil
}

// ClearSafeMode acknowledges every open alert, then clears safe mode. Only
// an operator can clear it. A trip that lands between the acknowledgement
// and the clear fails the clear with domain.ErrConflict and leaves safe
// mode on.
func (s *SettingsService) ClearSafeMode(ctx context.Context, operator string) (domain.Settings, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return domain.Settings{}, fmt.Errorf("settings_service: clear safe mode: operator is required: %w", domain.ErrInvalidInput)
	}
	seen, err := s.Get(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	acked := 0
	if s.alerts != nil {
		n, err := s.alerts.AcknowledgeAll(ctx, operator)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("settings_service: clear safe mode: %w", err)
		}
		acked = n
	}

	var previous string
	out, err := s.Apply(ctx, func(st *domain.Settings) error {
		if !st.SafeMode {
			return errNoChange
		}
		if st.SafeModeTrips != seen.SafeModeTrips || !sameInstant(st.SafeModeAt, seen.SafeModeAt) {
			return fmt.Errorf("settings_service: clear safe mode: tripped again while clearing: %w", domain.ErrConflict)
		}
		previous = st.SafeModeReason
		st.SafeMode = false
		st.SafeModeReason = ""
		st.SafeModeAt = nil
		st.SafeModeTrips = 0
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.WarnContext(ctx, "safe mode clear aborted, tripped again", slog.String("operator", operator))
		}
		return domain.Settings{}, err
	}
	s.logger.InfoContext(ctx, "safe mode cleared",
		slog.String("operator", operator),
		slog.Int("alerts_acknowledged", acked),
	)
	s.auditLog(ctx, "safe_mode.clear", map[string]any{
		"operator":            operator,
		"previous_reason":     previous,
		"alerts_acknowledged": acked,
	})
	return out, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (s *SettingsService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
