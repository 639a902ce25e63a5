// Package notify fans operator alerts out to chat channels (Telegram,
// Discord). Alert kinds can be filtered so noisy kinds stay in the API only.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultSendTimeout = 10 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender concurrently. It satisfies
// service.AlertNotifier.
type Notifier struct {
	senders []Sender
	kinds   map[string]bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only alert kinds listed in kinds are
// forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		timeout: defaultSendTimeout,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify forwards an alert of the given kind. Sender failures are joined;
// one failing channel does not stop the others.
func (n *Notifier) Notify(ctx context.Context, kind, title, message string) error {
	if len(n.kinds) > 0 && !n.kinds[kind] {
		n.logger.DebugContext(ctx, "alert kind filtered", slog.String("kind", kind))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range n.senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
