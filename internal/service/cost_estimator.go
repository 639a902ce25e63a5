package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// CostConfig tunes native cost conversion.
type CostConfig struct {
	// NativeQuoteAmount is the native amount quoted to learn the
	// native-to-base rate.
	NativeQuoteAmount *big.Int
	// RateMaxAge bounds how long a cached rate is reused.
	RateMaxAge time.Duration
}

// CostEstimator prices the execution cost of one settlement unit in the
// strategy's base asset.
type CostEstimator struct {
	cache  domain.QuoteCache
	cfg    CostConfig
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewCostEstimator creates a CostEstimator. cache may be nil.
func NewCostEstimator(cache domain.QuoteCache, cfg CostConfig, logger *slog.Logger) *CostEstimator {
	if !domain.IsPositive(cfg.NativeQuoteAmount) {
		cfg.NativeQuoteAmount = big.NewInt(1_000_000_000)
	}
	if cfg.RateMaxAge <= 0 {
		cfg.RateMaxAge = time.Minute
	}
	return &CostEstimator{
		cache:  cache,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "costs")),
		now:    time.Now,
	}
}

// Costs are the execution costs of one settlement unit in base units.
type Costs struct {
	Priority *big.Int
	Compute  *big.Int
	// Simulated is set when the native-to-base rate was fallback data.
	Simulated bool
}

// nativeRate is a conversion rate and whether it came from fallback data.
type nativeRate struct {
	domain.QuoteRate
	simulated bool
}

// Estimate returns the priority and compute budget fees in baseMint units.
// Native costs are converted at the native-to-base rate, rounded up.
func (c *CostEstimator) Estimate(ctx context.Context, adapter domain.ChainAdapter, source domain.QuoteSource, baseMint string) (Costs, error) {
	priority, compute, err := adapter.EstimatePriorityFee(ctx)
	if err != nil {
		return Costs{}, fmt.Errorf("costs: estimate priority fee: %w", err)
	}
	native := adapter.NativeAsset()
	if baseMint == native {
		return Costs{Priority: priority, Compute: compute}, nil
	}
	rate, err := c.rate(ctx, source, native, baseMint)
	if err != nil {
		return Costs{}, err
	}
	return Costs{
		Priority:  domain.MulDivCeil(priority, rate.OutAmount, rate.InAmount),
		Compute:   domain.MulDivCeil(compute, rate.OutAmount, rate.InAmount),
		Simulated: rate.simulated,
	}, nil
}

func (c *CostEstimator) rate(ctx context.Context, source domain.QuoteSource, native, base string) (nativeRate, error) {
	if c.cache != nil {
		if r, err := c.cache.GetRate(ctx, native, base); err == nil && c.fresh(r) {
			return nativeRate{QuoteRate: r}, nil
		}
	}
	v, err, _ := c.group.Do(native+":"+base, func() (any, error) {
		outcome, err := source.Quote(ctx, domain.QuoteRequest{
			InputMint:  native,
			OutputMint: base,
			Amount:     c.cfg.NativeQuoteAmount,
		})
		if err != nil {
			return nil, fmt.Errorf("costs: native rate %s -> %s: %w", native, base, err)
		}
		var (
			q         domain.Quote
			simulated bool
		)
		switch o := outcome.(type) {
		case domain.RealQuote:
			q = o.Quote
		case domain.FallbackQuote:
			q, simulated = o.Quote, true
			c.logger.WarnContext(ctx, "native rate is fallback data",
				slog.String("native", native),
				slog.String("base", base),
				slog.String("reason", o.Reason),
			)
		default:
			return nil, fmt.Errorf("costs: native rate %s -> %s: %w", native, base, domain.ErrNoRoute)
		}
		return nativeRate{
			QuoteRate: domain.QuoteRate{InAmount: q.InAmount, OutAmount: q.OutAmount, At: q.FetchedAt},
			simulated: simulated,
		}, nil
	})
	if err != nil {
		return nativeRate{}, err
	}
	r := v.(nativeRate)
	if !domain.IsPositive(r.InAmount) {
		return nativeRate{}, fmt.Errorf("costs: native rate %s -> %s: empty quote", native, base)
	}
	return r, nil
}

func (c *CostEstimator) fresh(r domain.QuoteRate) bool {
	return domain.IsPositive(r.InAmount) && domain.IsPositive(r.OutAmount) && c.now().Sub(r.At) <= c.cfg.RateMaxAge
}
