// Package chain holds the per-chain adapter and quote source registry.
package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type adapterKey struct {
	chain   domain.Chain
	network domain.Network
}

// Registry maps chain/network pairs to their execution adapter and chains
// to their quote source.
type Registry struct {
	mu       sync.RWMutex
	adapters map[adapterKey]domain.ChainAdapter
	sources  map[domain.Chain]domain.QuoteSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[adapterKey]domain.ChainAdapter),
		sources:  make(map[domain.Chain]domain.QuoteSource),
	}
}

// RegisterAdapter adds or replaces the adapter of a.Chain()/a.Network().
func (r *Registry) RegisterAdapter(a domain.ChainAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapterKey{a.Chain(), a.Network()}] = a
}

// RegisterQuoteSource sets the quote source used for chain.
func (r *Registry) RegisterQuoteSource(chain domain.Chain, src domain.QuoteSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[chain] = src
}

// Adapter returns the adapter of a chain/network pair.
func (r *Registry) Adapter(chain domain.Chain, network domain.Network) (domain.ChainAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[adapterKey{chain, network}]
	if !ok {
		return nil, fmt.Errorf("chain: %s/%s: %w", chain, network, domain.ErrUnsupportedChain)
	}
	return a, nil
}

// QuoteSource returns the quote source of a chain.
func (r *Registry) QuoteSource(chain domain.Chain) (domain.QuoteSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[chain]
	if !ok {
		return nil, fmt.Errorf("chain: no quote source for %s: %w", chain, domain.ErrUnsupportedChain)
	}
	return s, nil
}

// Adapters lists every registered adapter ordered by chain then network.
func (r *Registry) Adapters() []domain.ChainAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChainAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chain() == out[j].Chain() {
			return out[i].Network() < out[j].Network()
		}
		return out[i].Chain() < out[j].Chain()
	})
	return out
}
