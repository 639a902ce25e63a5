package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// BreakerConfig holds the divergence trip thresholds.
type BreakerConfig struct {
	// MaxDivergenceBps is the shortfall, relative to the estimate, that trips
	// the breaker.
	MaxDivergenceBps int64
	// MinDivergenceDelta is the smallest absolute shortfall that can trip.
	MinDivergenceDelta *big.Int
}

// Breaker watches executed runs and turns safe mode on when realized
// results diverge from estimates or daily losses reach their caps.
type Breaker struct {
	settings *SettingsService
	alerts   *AlertService
	ledger   domain.RiskLedgerStore
	cfg      BreakerConfig
	logger   *slog.Logger
}

// NewBreaker creates a Breaker.
func NewBreaker(settings *SettingsService, alerts *AlertService, ledger domain.RiskLedgerStore, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	return &Breaker{
		settings: settings,
		alerts:   alerts,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "breaker")),
	}
}

// Evaluate checks one executed run against the trip conditions. ledger is
// the strategy ledger after the run was recorded. It returns the trip
// reason, or "" when nothing tripped.
func (b *Breaker) Evaluate(ctx context.Context, run domain.Run, strategy domain.Strategy, ledger domain.DailyRiskLedger) (string, error) {
	reason := b.divergence(run)

	if reason == "" && domain.IsPositive(strategy.Risk.MaxDailyLoss) {
		loss := domain.LossMagnitude(ledger.RealizedPnL)
		if loss.Cmp(strategy.Risk.MaxDailyLoss) >= 0 {
			reason = fmt.Sprintf("strategy %s daily loss %s reached cap %s", strategy.ID, loss, strategy.Risk.MaxDailyLoss)
		}
	}

	if reason == "" {
		settings, err := b.settings.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("breaker: %w", err)
		}
		if domain.IsPositive(settings.GlobalMaxDailyLoss) {
			totals, err := b.ledger.Totals(ctx, ledger.Day)
			if err != nil {
				return "", fmt.Errorf("breaker: ledger totals: %w", err)
			}
			loss := domain.LossMagnitude(totals.RealizedPnL)
			if loss.Cmp(settings.GlobalMaxDailyLoss) >= 0 {
				reason = fmt.Sprintf("global daily loss %s reached cap %s", loss, settings.GlobalMaxDailyLoss)
			}
		}
	}

	if reason == "" {
		return "", nil
	}
	if err := b.Trip(ctx, reason, map[string]any{"run_id": run.ID, "strategy_id": strategy.ID}); err != nil {
		return reason, err
	}
	return reason, nil
}

// Trip turns safe mode on, or counts a repeat trip, and raises a critical
// alert.
func (b *Breaker) Trip(ctx context.Context, reason string, detail map[string]any) error {
	_, tripped, err := b.settings.TripSafeMode(ctx, reason)
	if err != nil {
		return fmt.Errorf("breaker: trip: %w", err)
	}
	message := "safe mode tripped: " + reason
	if !tripped {
		b.logger.InfoContext(ctx, "safe mode already active", slog.String("reason", reason))
		message = "safe mode tripped while active: " + reason
	}
	// An open safe_mode alert absorbs repeat trips. Once it is acknowledged
	// a repeat trip raises a fresh one.
	if b.alerts != nil {
		_, _, err := b.alerts.Raise(ctx, domain.Alert{
			Kind:     domain.AlertSafeMode,
			Severity: domain.SeverityCritical,
			Key:      "safe_mode",
			Message:  message,
			Detail:   detail,
		})
		if err != nil {
			return fmt.Errorf("breaker: raise alert: %w", err)
		}
	}
	return nil
}

// divergence reports a realized shortfall large enough, both relative to
// the estimate and absolutely, to trip.
func (b *Breaker) divergence(run domain.Run) string {
	if !domain.IsPositive(run.EstimatedProfit) || run.RealizedProfit == nil || b.cfg.MaxDivergenceBps <= 0 {
		return ""
	}
	shortfall := domain.Sub(run.EstimatedProfit, run.RealizedProfit)
	if shortfall.Sign() <= 0 {
		return ""
	}
	lhs := new(big.Int).Mul(shortfall, big.NewInt(10_000))
	rhs := new(big.Int).Mul(run.EstimatedProfit, big.NewInt(b.cfg.MaxDivergenceBps))
	if lhs.Cmp(rhs) < 0 {
		return ""
	}
	if b.cfg.MinDivergenceDelta != nil && shortfall.Cmp(b.cfg.MinDivergenceDelta) < 0 {
		return ""
	}
	return fmt.Sprintf("run %s realized %s vs estimate %s (shortfall %s)",
		run.ID, run.RealizedProfit, run.EstimatedProfit, shortfall)
}
