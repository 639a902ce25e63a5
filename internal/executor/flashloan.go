package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// FlashLoanLegs are the instructions a provider adds around a settlement
// body.
type FlashLoanLegs struct {
	Borrow       []domain.Instruction
	Repay        []domain.Instruction
	LookupTables []string
}

// FlashLoanProvider builds the borrow and repay instructions of a flash
// loan taken by borrower in the same settlement unit.
type FlashLoanProvider interface {
	Name() string
	Legs(ctx context.Context, loan domain.FlashLoanConfig, borrower string) (FlashLoanLegs, error)
}

// FlashLoans maps provider names to providers.
type FlashLoans struct {
	mu        sync.RWMutex
	providers map[string]FlashLoanProvider
}

// NewFlashLoans creates an empty provider registry.
func NewFlashLoans() *FlashLoans {
	return &FlashLoans{providers: make(map[string]FlashLoanProvider)}
}

// Register adds or replaces a provider.
func (f *FlashLoans) Register(p FlashLoanProvider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[p.Name()] = p
}

// Provider returns the named provider.
func (f *FlashLoans) Provider(name string) (FlashLoanProvider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("flash loan provider %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}
