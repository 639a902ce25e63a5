package arbitrage

import (
	"fmt"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Executable narrows two quote outcomes to real quotes. Anything else fails
// closed: fallback data yields ErrMockQuote and a missing route ErrNoRoute.
func Executable(a, b domain.QuoteOutcome) (domain.RealQuote, domain.RealQuote, error) {
	legA, err := realLeg("A", a)
	if err != nil {
		return domain.RealQuote{}, domain.RealQuote{}, err
	}
	legB, err := realLeg("B", b)
	if err != nil {
		return domain.RealQuote{}, domain.RealQuote{}, err
	}
	return legA, legB, nil
}

func realLeg(name string, o domain.QuoteOutcome) (domain.RealQuote, error) {
	switch v := o.(type) {
	case domain.RealQuote:
		return v, nil
	case domain.FallbackQuote:
		return domain.RealQuote{}, fmt.Errorf("leg %s: %w", name, domain.ErrMockQuote)
	case domain.NoRoute:
		return domain.RealQuote{}, fmt.Errorf("leg %s: %w", name, domain.ErrNoRoute)
	default:
		return domain.RealQuote{}, fmt.Errorf("leg %s: unknown quote outcome %T", name, o)
	}
}
