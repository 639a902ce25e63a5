package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const lockPollInterval = 50 * time.Millisecond

// AcquireWait takes key, polling while another holder owns it, for at most
// wait. It returns domain.ErrLockHeld when the wait runs out.
func AcquireWait(ctx context.Context, locks domain.LockManager, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		unlock, err := locks.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// publish emits an event and only logs failures; the bus is best effort.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel, typ string, payload any) {
	if bus == nil {
		return
	}
	msg, err := domain.NewEvent(typ, payload)
	if err == nil {
		err = bus.Publish(ctx, channel, msg)
	}
	if err != nil {
		logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}

// Publish is publish for callers outside the package.
func Publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel, typ string, payload any) {
	publish(ctx, bus, logger, channel, typ, payload)
}
