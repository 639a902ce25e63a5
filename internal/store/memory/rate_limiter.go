package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const rateWaitPoll = 20 * time.Millisecond

// RateLimiter is an in-process sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

// Allow reports whether one more request for key fits in the window, and
// counts it if so.
func (l *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-window)

	hits := l.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= limit {
		l.hits[key] = hits
		return false, nil
	}
	l.hits[key] = append(hits, now)
	return true, nil
}

// Wait blocks until a request for key is allowed or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		ok, _ := l.Allow(ctx, key, limit, window)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("memory: rate limit wait %s: %w", key, ctx.Err())
		case <-time.After(rateWaitPoll):
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
