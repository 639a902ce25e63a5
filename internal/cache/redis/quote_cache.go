package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes at
// "quote:{in}:{out}" with fields "in", "out" and "ts" (Unix nanoseconds).
type QuoteCache struct {
	c   *Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. Entries expire after ttl; zero keeps
// them forever.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{c: c, ttl: ttl}
}

func (qc *QuoteCache) key(in, out string) string {
	return qc.c.Key("quote:" + in + ":" + out)
}

// SetRate stores the latest real rate of a pair.
func (qc *QuoteCache) SetRate(ctx context.Context, in, out string, rate domain.QuoteRate) error {
	key := qc.key(in, out)
	fields := map[string]any{
		"in":  domain.OrZero(rate.InAmount).String(),
		"out": domain.OrZero(rate.OutAmount).String(),
		"ts":  strconv.FormatInt(rate.At.UnixNano(), 10),
	}
	_, err := qc.c.Underlying().TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		if qc.ttl > 0 {
			p.Expire(ctx, key, qc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set quote rate %s/%s: %w", in, out, err)
	}
	return nil
}

// GetRate returns the latest real rate of a pair, or domain.ErrNotFound.
func (qc *QuoteCache) GetRate(ctx context.Context, in, out string) (domain.QuoteRate, error) {
	vals, err := qc.c.Underlying().HGetAll(ctx, qc.key(in, out)).Result()
	if err != nil {
		return domain.QuoteRate{}, fmt.Errorf("redis: get quote rate %s/%s: %w", in, out, err)
	}
	if len(vals) == 0 {
		return domain.QuoteRate{}, domain.ErrNotFound
	}

	inAmt, err := domain.ParseAmount(vals["in"])
	if err != nil {
		return domain.QuoteRate{}, fmt.Errorf("redis: parse quote rate %s/%s: %w", in, out, err)
	}
	outAmt, err := domain.ParseAmount(vals["out"])
	if err != nil {
		return domain.QuoteRate{}, fmt.Errorf("redis: parse quote rate %s/%s: %w", in, out, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.QuoteRate{}, fmt.Errorf("redis: parse quote ts %s/%s: %w", in, out, err)
	}
	return domain.QuoteRate{InAmount: inAmt, OutAmount: outAmt, At: time.Unix(0, tsNano)}, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
