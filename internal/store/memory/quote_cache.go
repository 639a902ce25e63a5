package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// QuoteCache is an in-memory domain.QuoteCache.
type QuoteCache struct {
	mu    sync.RWMutex
	rates map[string]domain.QuoteRate
}

// NewQuoteCache creates an empty quote cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{rates: make(map[string]domain.QuoteRate)}
}

func (c *QuoteCache) SetRate(_ context.Context, inputMint, outputMint string, rate domain.QuoteRate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[inputMint+":"+outputMint] = domain.QuoteRate{
		InAmount:  domain.Copy(rate.InAmount),
		OutAmount: domain.Copy(rate.OutAmount),
		At:        rate.At,
	}
	return nil
}

func (c *QuoteCache) GetRate(_ context.Context, inputMint, outputMint string) (domain.QuoteRate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rates[inputMint+":"+outputMint]
	if !ok {
		return domain.QuoteRate{}, domain.ErrNotFound
	}
	return r, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
