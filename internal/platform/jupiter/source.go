package jupiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Source implements the quote source contract on top of Client. Every real
// quote refreshes the pair rate in the cache; when Jupiter is unreachable
// and fallback is enabled, a FallbackQuote is priced from that rate.
type Source struct {
	client  *Client
	cache   domain.QuoteCache
	limiter domain.RateLimiter
	logger  *slog.Logger
	cfg     SourceConfig
	now     func() time.Time
}

// SourceConfig configures a Source.
type SourceConfig struct {
	FallbackEnabled bool
	// FallbackMaxAge bounds how old a cached rate may be. Zero means no bound.
	FallbackMaxAge time.Duration
	RateLimit      int
	RateWindow     time.Duration
	// ComputeUnitPriceMicroLamports is forwarded to swap-instructions.
	ComputeUnitPriceMicroLamports int64
	WrapAndUnwrapSol              bool
}

// NewSource creates a quote source. cache and limiter may be nil.
func NewSource(client *Client, cache domain.QuoteCache, limiter domain.RateLimiter, cfg SourceConfig, logger *slog.Logger) *Source {
	return &Source{
		client:  client,
		cache:   cache,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "jupiter")),
		now:     time.Now,
	}
}

// Quote prices one leg.
func (s *Source) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteOutcome, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, &domain.QuoteError{Op: "quote", Err: fmt.Errorf("amount must be positive")}
	}
	if err := s.wait(ctx); err != nil {
		return nil, &domain.QuoteError{Op: "quote", Transient: true, Err: err}
	}

	resp, err := s.client.GetQuote(ctx, QuoteParams{
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		Amount:      req.Amount.String(),
		SlippageBps: req.SlippageBps,
		Dexes:       req.Venues,
	})
	if errors.Is(err, errNoRoute) {
		return domain.NoRoute{Reason: fmt.Sprintf("no route %s -> %s", req.InputMint, req.OutputMint)}, nil
	}
	if err != nil {
		return s.fallback(ctx, req, err)
	}

	q, err := resp.ToDomainQuote(s.now().UTC())
	if err != nil {
		return nil, &domain.QuoteError{Op: "quote", Err: err}
	}
	s.remember(ctx, q)
	return domain.RealQuote{Quote: q}, nil
}

// Instructions fetches the swap instructions of a real quote.
func (s *Source) Instructions(ctx context.Context, q domain.RealQuote, signer string) (domain.InstructionSet, error) {
	if len(q.Raw) == 0 {
		return domain.InstructionSet{}, fmt.Errorf("jupiter: instructions: quote has no raw payload")
	}
	if err := s.wait(ctx); err != nil {
		return domain.InstructionSet{}, &domain.QuoteError{Op: "swap-instructions", Transient: true, Err: err}
	}
	resp, err := s.client.GetSwapInstructions(ctx, SwapInstructionsRequest{
		QuoteResponse:                 q.Raw,
		UserPublicKey:                 signer,
		WrapAndUnwrapSol:              s.cfg.WrapAndUnwrapSol,
		DynamicComputeUnitLimit:       true,
		ComputeUnitPriceMicroLamports: s.cfg.ComputeUnitPriceMicroLamports,
	})
	if err != nil {
		return domain.InstructionSet{}, fmt.Errorf("jupiter: instructions: %w", err)
	}
	set, err := resp.ToDomainInstructionSet()
	if err != nil {
		return domain.InstructionSet{}, fmt.Errorf("jupiter: instructions: %w", err)
	}
	return set, nil
}

func (s *Source) wait(ctx context.Context) error {
	if s.limiter == nil || s.cfg.RateLimit <= 0 {
		return nil
	}
	return s.limiter.Wait(ctx, "jupiter:quote", s.cfg.RateLimit, s.cfg.RateWindow)
}

func (s *Source) remember(ctx context.Context, q domain.Quote) {
	if s.cache == nil {
		return
	}
	rate := domain.QuoteRate{InAmount: q.InAmount, OutAmount: q.OutAmount, At: q.FetchedAt}
	if err := s.cache.SetRate(ctx, q.InputMint, q.OutputMint, rate); err != nil {
		s.logger.WarnContext(ctx, "cache quote rate failed",
			slog.String("input_mint", q.InputMint),
			slog.String("output_mint", q.OutputMint),
			slog.String("error", err.Error()),
		)
	}
}

// fallback prices a synthetic quote from the last real rate when the live
// source failed transiently. Otherwise the original error is returned.
func (s *Source) fallback(ctx context.Context, req domain.QuoteRequest, cause error) (domain.QuoteOutcome, error) {
	var qe *domain.QuoteError
	if !s.cfg.FallbackEnabled || s.cache == nil || !errors.As(cause, &qe) || !qe.Transient {
		return nil, cause
	}
	rate, err := s.cache.GetRate(ctx, req.InputMint, req.OutputMint)
	if err != nil {
		return nil, cause
	}
	if !domain.IsPositive(rate.InAmount) || !domain.IsPositive(rate.OutAmount) {
		return nil, cause
	}
	if s.cfg.FallbackMaxAge > 0 && s.now().Sub(rate.At) > s.cfg.FallbackMaxAge {
		return nil, cause
	}

	out := domain.MulDivFloor(req.Amount, rate.OutAmount, rate.InAmount)
	reason := fmt.Sprintf("price source unreachable: %v", cause)
	s.logger.WarnContext(ctx, "serving fallback quote",
		slog.String("input_mint", req.InputMint),
		slog.String("output_mint", req.OutputMint),
		slog.String("reason", reason),
	)
	return domain.FallbackQuote{
		Quote: domain.Quote{
			InputMint:    req.InputMint,
			OutputMint:   req.OutputMint,
			InAmount:     domain.Copy(req.Amount),
			OutAmount:    out,
			MinOutAmount: domain.Copy(out),
			SlippageBps:  req.SlippageBps,
			FetchedAt:    s.now().UTC(),
		},
		Reason: reason,
	}, nil
}

var _ domain.QuoteSource = (*Source)(nil)
