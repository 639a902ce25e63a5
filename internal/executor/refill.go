package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// RefillKind says what a refill job does with the profit.
type RefillKind string

const (
	// RefillTopUp funds fee payers below their minimum.
	RefillTopUp RefillKind = "top_up"
	// RefillSweep sends the profit to the treasury.
	RefillSweep RefillKind = "sweep"
)

// RefillJob is handed off by the engine after a profitable run.
type RefillJob struct {
	Kind       RefillKind
	RunID      string
	StrategyID string
	Chain      domain.Chain
	Network    domain.Network
	Source     domain.FundingSource
	Amount     *big.Int
}

// Refiller performs refill jobs.
type Refiller interface {
	TopUpChain(ctx context.Context, c domain.Chain, network domain.Network, source domain.FundingSource, runID string) (domain.StageResult, error)
	Sweep(ctx context.Context, c domain.Chain, network domain.Network, amount *big.Int, runID string) (domain.TopUp, error)
}

// AlertRaiser raises operator alerts.
type AlertRaiser interface {
	Raise(ctx context.Context, a domain.Alert) (domain.Alert, bool, error)
}

// RefillWorker drains refill jobs on its own goroutine so that execution
// never waits on funding transfers. A full queue drops the job.
type RefillWorker struct {
	jobs    chan RefillJob
	refill  Refiller
	alerts  AlertRaiser
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending int
	idle    chan struct{} // closed while pending is zero
}

// NewRefillWorker creates a worker with a queue of size buffer. alerts may
// be nil.
func NewRefillWorker(refill Refiller, alerts AlertRaiser, buffer int, timeout time.Duration, logger *slog.Logger) *RefillWorker {
	if buffer <= 0 {
		buffer = 16
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	idle := make(chan struct{})
	close(idle)
	return &RefillWorker{
		jobs:    make(chan RefillJob, buffer),
		refill:  refill,
		alerts:  alerts,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "refill")),
		idle:    idle,
	}
}

// Enqueue queues job without blocking and reports whether it was accepted.
func (w *RefillWorker) Enqueue(job RefillJob) bool {
	w.track()
	select {
	case w.jobs <- job:
		return true
	default:
		w.untrack()
		w.logger.Warn("refill queue full, job dropped",
			slog.String("run_id", job.RunID),
			slog.String("kind", string(job.Kind)),
		)
		return false
	}
}

// Run processes jobs until ctx is cancelled.
func (w *RefillWorker) Run(ctx context.Context) error {
	w.logger.Info("refill worker started")
	defer w.logger.Info("refill worker stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

// Wait blocks until every accepted job has finished or ctx is done. It is
// safe to call while other goroutines keep enqueueing.
func (w *RefillWorker) Wait(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *RefillWorker) track() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == 0 {
		w.idle = make(chan struct{})
	}
	w.pending++
}

func (w *RefillWorker) untrack() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending--
	if w.pending == 0 {
		close(w.idle)
	}
}

func (w *RefillWorker) process(ctx context.Context, job RefillJob) {
	defer w.untrack()
	log := w.logger.With(
		slog.String("run_id", job.RunID),
		slog.String("kind", string(job.Kind)),
		slog.String("chain", string(job.Chain)),
	)

	err := w.safeRun(ctx, job)
	if err == nil {
		log.InfoContext(ctx, "refill completed")
		return
	}
	log.ErrorContext(ctx, "refill failed", slog.String("error", err.Error()))
	if w.alerts == nil {
		return
	}
	if _, _, aerr := w.alerts.Raise(ctx, domain.Alert{
		Kind:     domain.AlertRefillFailed,
		Severity: domain.SeverityWarning,
		Key:      fmt.Sprintf("refill_failed:%s:%s", job.Chain, job.Kind),
		Message:  fmt.Sprintf("refill after run %s failed: %v", job.RunID, err),
		Detail:   map[string]any{"run_id": job.RunID, "strategy_id": job.StrategyID},
	}); aerr != nil {
		log.WarnContext(ctx, "raise refill alert failed", slog.String("error", aerr.Error()))
	}
}

// safeRun turns a panic in a job into an error.
func (w *RefillWorker) safeRun(ctx context.Context, job RefillJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refill panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	switch job.Kind {
	case RefillSweep:
		_, err = w.refill.Sweep(ctx, job.Chain, job.Network, job.Amount, job.RunID)
		return err
	default:
		res, err := w.refill.TopUpChain(ctx, job.Chain, job.Network, job.Source, job.RunID)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d top-ups failed: %v", res.Failed, res.Attempted, res.Errors)
		}
		return nil
	}
}
