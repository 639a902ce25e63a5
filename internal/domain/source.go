package domain

import "context"

// QuoteSource prices swaps and turns real quotes into instructions.
// Instructions only accepts a RealQuote, so fallback data can never reach
// a settlement unit.
type QuoteSource interface {
	Quote(ctx context.Context, req QuoteRequest) (QuoteOutcome, error)
	Instructions(ctx context.Context, q RealQuote, signer string) (InstructionSet, error)
}
