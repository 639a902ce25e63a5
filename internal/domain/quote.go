package domain

import (
	"encoding/json"
	"math/big"
	"time"
)

// QuoteRequest asks a quote source for one leg.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      *big.Int
	SlippageBps int
	// Venues optionally restricts routing to the named venues.
	Venues []string
}

// RouteHop is one hop of a quoted route.
type RouteHop struct {
	Venue      string   `json:"venue"`
	AmmKey     string   `json:"amm_key"`
	InputMint  string   `json:"input_mint"`
	OutputMint string   `json:"output_mint"`
	InAmount   *big.Int `json:"in_amount"`
	OutAmount  *big.Int `json:"out_amount"`
	FeeAmount  *big.Int `json:"fee_amount"`
	FeeMint    string   `json:"fee_mint"`
	Percent    int      `json:"percent"`
}

// Quote is a priced route for one leg.
type Quote struct {
	InputMint      string          `json:"input_mint"`
	OutputMint     string          `json:"output_mint"`
	InAmount       *big.Int        `json:"in_amount"`
	OutAmount      *big.Int        `json:"out_amount"`
	MinOutAmount   *big.Int        `json:"min_out_amount"`
	SlippageBps    int             `json:"slippage_bps"`
	PriceImpactPct string          `json:"price_impact_pct"`
	Route          []RouteHop      `json:"route"`
	Raw            json.RawMessage `json:"-"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// FeeIn sums the route fees of q expressed in mint. A fee charged in the
// leg's other token is converted at the leg's own rate, rounded up. Fees in
// intermediate mints are ignored.
func (q Quote) FeeIn(mint string) *big.Int {
	total := Zero()
	for _, hop := range q.Route {
		if !IsPositive(hop.FeeAmount) {
			continue
		}
		switch {
		case hop.FeeMint == mint:
			total.Add(total, hop.FeeAmount)
		case hop.FeeMint == q.OutputMint && q.InputMint == mint:
			total.Add(total, MulDivCeil(hop.FeeAmount, q.InAmount, q.OutAmount))
		case hop.FeeMint == q.InputMint && q.OutputMint == mint:
			total.Add(total, MulDivCeil(hop.FeeAmount, q.OutAmount, q.InAmount))
		}
	}
	return total
}

// Venues lists the distinct venue labels of the route in order.
func (q Quote) Venues() []string {
	seen := make(map[string]bool, len(q.Route))
	var out []string
	for _, hop := range q.Route {
		if hop.Venue == "" || seen[hop.Venue] {
			continue
		}
		seen[hop.Venue] = true
		out = append(out, hop.Venue)
	}
	return out
}

// QuoteOutcome is the result of a quote request: RealQuote, FallbackQuote
// or NoRoute.
type QuoteOutcome interface {
	quoteOutcome()
}

// RealQuote came from the live price source and may be executed.
type RealQuote struct {
	Quote
}

// FallbackQuote is synthesized when the live source is unreachable. It is
// never executable.
type FallbackQuote struct {
	Quote
	Reason string
}

// NoRoute means the source answered but found no path.
type NoRoute struct {
	Reason string
}

func (RealQuote) quoteOutcome()     {}
func (FallbackQuote) quoteOutcome() {}
func (NoRoute) quoteOutcome()       {}

// QuoteOf extracts the priced quote of an outcome, if any.
func QuoteOf(o QuoteOutcome) (Quote, bool) {
	switch v := o.(type) {
	case RealQuote:
		return v.Quote, true
	case FallbackQuote:
		return v.Quote, true
	default:
		return Quote{}, false
	}
}

// IsFallback reports whether o is synthesized data.
func IsFallback(o QuoteOutcome) bool {
	_, ok := o.(FallbackQuote)
	return ok
}
