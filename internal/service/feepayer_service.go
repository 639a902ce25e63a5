package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbbot/internal/chain"
	"github.com/alanyoungcy/arbbot/internal/crypto"
	"github.com/alanyoungcy/arbbot/internal/domain"
)

// FundingRule says where a chain's fee payers are funded from.
type FundingRule struct {
	Source          domain.FundingSource
	TreasuryAddress string
	// Reserve is what the source must keep after a top-up, on top of the
	// transfer fee.
	Reserve *big.Int
}

// FeePayerConfig configures the FeePayerService.
type FeePayerConfig struct {
	Funding       map[domain.Chain]FundingRule
	VaultPassword string
}

// FeePayerService manages the fleet of gas-paying wallets: balances,
// top-ups, generation, registration and selection.
type FeePayerService struct {
	store    domain.FeePayerStore
	topUps   domain.TopUpStore
	chains   *chain.Registry
	keys     domain.Keyring
	settings *SettingsService
	alerts   *AlertService
	bus      domain.SignalBus
	cfg      FeePayerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewFeePayerService creates a FeePayerService.
func NewFeePayerService(
	store domain.FeePayerStore,
	topUps domain.TopUpStore,
	chains *chain.Registry,
	keys domain.Keyring,
	settings *SettingsService,
	alerts *AlertService,
	bus domain.SignalBus,
	cfg FeePayerConfig,
	logger *slog.Logger,
) *FeePayerService {
	return &FeePayerService{
		store:    store,
		topUps:   topUps,
		chains:   chains,
		keys:     keys,
		settings: settings,
		alerts:   alerts,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "fee_payers")),
		now:      time.Now,
	}
}

// LoadKeys opens the sealed secrets of every active fee payer into the
// keyring.
func (s *FeePayerService) LoadKeys(ctx context.Context) (int, error) {
	payers, err := s.store.List(ctx, domain.FeePayerFilter{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("feepayer_service: list: %w", err)
	}
	loaded := 0
	var errs []error
	for _, fp := range payers {
		if len(fp.EncryptedKey) == 0 {
			continue
		}
		secret, err := crypto.Open(fp.EncryptedKey, s.cfg.VaultPassword)
		if err != nil {
			errs = append(errs, fmt.Errorf("open key of %s: %w", fp.Address, err))
			continue
		}
		s.keys.Add(fp.Address, secret)
		loaded++
	}
	return loaded, errors.Join(errs...)
}

// List returns fee payers matching filter.
func (s *FeePayerService) List(ctx context.Context, filter domain.FeePayerFilter) ([]domain.FeePayer, error) {
	return s.store.List(ctx, filter)
}

// TopUps returns the top-up log newest first.
func (s *FeePayerService) TopUps(ctx context.Context, opts domain.ListOpts) ([]domain.TopUp, error) {
	return s.topUps.List(ctx, opts)
}

// RefreshBalances updates the cached balance of every active fee payer.
func (s *FeePayerService) RefreshBalances(ctx context.Context) (int, error) {
	updated := 0
	var errs []error
	for _, adapter := range s.chains.Adapters() {
		n, err := s.refreshChain(ctx, adapter)
		updated += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return updated, errors.Join(errs...)
}

// CheckAndTopUp refreshes balances, then funds every active fee payer below
// its chain minimum. A forced source overrides each chain's configured one.
func (s *FeePayerService) CheckAndTopUp(ctx context.Context, source domain.FundingSource) (res domain.StageResult, err error) {
	res = domain.StageResult{Stage: domain.StageWallets, StartedAt: s.now().UTC()}
	defer func() { res.FinishedAt = s.now().UTC() }()

	settings, err := s.settings.Get(ctx)
	if err != nil {
		res.Err = err.Error()
		return res, fmt.Errorf("feepayer_service: %w", err)
	}
	refreshed, err := s.RefreshBalances(ctx)
	if err != nil {
		res.AddError(fmt.Errorf("refresh balances: %w", err))
	}
	res.SetDetail("refreshed", refreshed)

	for _, adapter := range s.chains.Adapters() {
		s.topUpChain(ctx, adapter, settings, source, "", &res)
	}
	return res, nil
}

// TopUpChain funds the fee payers of one chain. It backs the refill jobs.
func (s *FeePayerService) TopUpChain(ctx context.Context, c domain.Chain, network domain.Network, source domain.FundingSource, runID string) (res domain.StageResult, err error) {
	res = domain.StageResult{Stage: domain.StageWallets, StartedAt: s.now().UTC()}
	defer func() { res.FinishedAt = s.now().UTC() }()

	adapter, err := s.chains.Adapter(c, network)
	if err != nil {
		return res, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return res, fmt.Errorf("feepayer_service: %w", err)
	}
	if _, err := s.refreshChain(ctx, adapter); err != nil {
		res.AddError(fmt.Errorf("refresh balances: %w", err))
	}
	s.topUpChain(ctx, adapter, settings, source, runID, &res)
	return res, nil
}

// refreshChain updates the cached balances of one chain's active fee
// payers and returns how many were stored.
func (s *FeePayerService) refreshChain(ctx context.Context, adapter domain.ChainAdapter) (int, error) {
	payers, err := s.store.List(ctx, domain.FeePayerFilter{Chain: adapter.Chain(), Network: adapter.Network(), ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("%s: list: %w", adapter.Chain(), err)
	}
	updated := 0
	var errs []error
	for _, fp := range payers {
		bal, err := adapter.NativeBalance(ctx, fp.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: balance of %s: %w", adapter.Chain(), fp.Address, err))
			continue
		}
		if err := s.store.UpdateBalance(ctx, fp.ID, bal, s.now().UTC()); err != nil {
			errs = append(errs, fmt.Errorf("%s: store balance of %s: %w", adapter.Chain(), fp.Address, err))
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

func (s *FeePayerService) topUpChain(
	ctx context.Context,
	adapter domain.ChainAdapter,
	settings domain.Settings,
	source domain.FundingSource,
	runID string,
	res *domain.StageResult,
) {
	funding, ok := settings.Funding(adapter.Chain())
	if !ok || !domain.IsPositive(funding.TopUpAmount) {
		return
	}
	payers, err := s.store.List(ctx, domain.FeePayerFilter{Chain: adapter.Chain(), Network: adapter.Network(), ActiveOnly: true})
	if err != nil {
		res.AddError(fmt.Errorf("%s: list fee payers: %w", adapter.Chain(), err))
		return
	}

	for _, fp := range payers {
		if domain.OrZero(fp.Balance).Cmp(domain.OrZero(funding.MinBalance)) >= 0 {
			continue
		}
		res.Attempted++
		t, err := s.topUp(ctx, adapter, fp, funding.TopUpAmount, source, runID)
		switch {
		case err != nil:
			res.AddError(fmt.Errorf("%s: top up %s: %w", adapter.Chain(), fp.Address, err))
		case t.Status == domain.TopUpSkipped:
			res.Skipped++
			res.SkipReason = t.Error
		default:
			res.Succeeded++
		}
	}
}

// topUp sends amount to one fee payer if the source can keep its reserve.
func (s *FeePayerService) topUp(
	ctx context.Context,
	adapter domain.ChainAdapter,
	fp domain.FeePayer,
	amount *big.Int,
	source domain.FundingSource,
	runID string,
) (domain.TopUp, error) {
	rule := s.cfg.Funding[adapter.Chain()]
	kind := source
	if kind == domain.FundingConfigured {
		kind = rule.Source
	}
	srcAddr := adapter.ExecutorAddress()
	if kind == domain.FundingTreasury {
		srcAddr = rule.TreasuryAddress
	} else {
		kind = domain.FundingExecutor
	}

	t := domain.TopUp{
		ID:            uuid.NewString(),
		Chain:         adapter.Chain(),
		Network:       adapter.Network(),
		SourceKind:    kind,
		SourceAddress: srcAddr,
		Destination:   fp.Address,
		Amount:        domain.Copy(amount),
		RunID:         runID,
		CreatedAt:     s.now().UTC(),
	}
	if srcAddr == "" {
		t.Status = domain.TopUpFailed
		t.Error = fmt.Sprintf("no %s address configured", kind)
		s.record(ctx, t)
		return t, errors.New(t.Error)
	}

	srcBal, err := adapter.NativeBalance(ctx, srcAddr)
	if err != nil {
		return t, fmt.Errorf("source balance: %w", err)
	}
	need := domain.Add(domain.Add(amount, rule.Reserve), adapter.TransferFee())
	if srcBal.Cmp(need) < 0 {
		t.Status = domain.TopUpSkipped
		t.Error = fmt.Sprintf("%s balance %s below required %s", kind, srcBal, need)
		s.record(ctx, t)
		s.logger.WarnContext(ctx, "top-up skipped",
			slog.String("chain", string(adapter.Chain())),
			slog.String("fee_payer", fp.Address),
			slog.String("reason", t.Error),
		)
		if s.alerts != nil {
			_, _, aerr := s.alerts.Raise(ctx, domain.Alert{
				Kind:     domain.AlertFeePayerShortfall,
				Severity: domain.SeverityWarning,
				Key:      fmt.Sprintf("fee_payer_shortfall:%s:%s:%s", adapter.Chain(), adapter.Network(), kind),
				Message:  fmt.Sprintf("%s cannot fund fee payers on %s: %s", kind, adapter.Chain(), t.Error),
				Detail:   map[string]any{"source": srcAddr, "balance": srcBal.String(), "required": need.String()},
			})
			if aerr != nil {
				s.logger.WarnContext(ctx, "raise shortfall alert failed", slog.String("error", aerr.Error()))
			}
		}
		return t, nil
	}

	settlement, err := adapter.Transfer(ctx, srcAddr, fp.Address, amount)
	if err != nil {
		t.Status = domain.TopUpFailed
		t.Error = err.Error()
		s.record(ctx, t)
		return t, err
	}
	t.Status = domain.TopUpCompleted
	t.TxSignature = settlement.Reference
	s.record(ctx, t)
	if err := s.store.UpdateBalance(ctx, fp.ID, domain.Add(fp.Balance, amount), s.now().UTC()); err != nil {
		// The next refresh reads the balance from chain.
		s.logger.WarnContext(ctx, "store topped-up balance failed",
			slog.String("fee_payer", fp.Address),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "fee payer topped up",
		slog.String("chain", string(adapter.Chain())),
		slog.String("fee_payer", fp.Address),
		slog.String("amount", amount.String()),
		slog.String("source", string(kind)),
		slog.String("tx", settlement.Reference),
	)
	return t, nil
}

func (s *FeePayerService) record(ctx context.Context, t domain.TopUp) {
	if err := s.topUps.Record(ctx, t); err != nil {
		s.logger.WarnContext(ctx, "record top-up failed", slog.String("error", err.Error()))
	}
	publish(ctx, s.bus, s.logger, domain.ChannelTopUp, "top_up", t)
}

// Generate creates count new fee payers with keys from the chain adapter.
func (s *FeePayerService) Generate(ctx context.Context, c domain.Chain, network domain.Network, count int) ([]domain.FeePayer, error) {
	if count <= 0 {
		return nil, fmt.Errorf("feepayer_service: generate: count must be positive: %w", domain.ErrInvalidInput)
	}
	adapter, err := s.chains.Adapter(c, network)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FeePayer, 0, count)
	for range count {
		key, err := adapter.GenerateKey()
		if err != nil {
			return out, fmt.Errorf("feepayer_service: generate key: %w", err)
		}
		fp, err := s.create(ctx, c, network, key.Address, key.Secret, domain.FeePayerGenerated)
		if err != nil {
			return out, err
		}
		out = append(out, fp)
	}
	return out, nil
}

// Register adds an externally created fee payer. secret may be nil for a
// payer that signs elsewhere; such a payer is never selected.
func (s *FeePayerService) Register(ctx context.Context, c domain.Chain, network domain.Network, address string, secret []byte) (domain.FeePayer, error) {
	if address == "" {
		return domain.FeePayer{}, fmt.Errorf("feepayer_service: register: address is required: %w", domain.ErrInvalidInput)
	}
	if _, err := s.chains.Adapter(c, network); err != nil {
		return domain.FeePayer{}, err
	}
	return s.create(ctx, c, network, address, secret, domain.FeePayerRegistered)
}

func (s *FeePayerService) create(ctx context.Context, c domain.Chain, network domain.Network, address string, secret []byte, source domain.FeePayerSource) (domain.FeePayer, error) {
	fp := domain.FeePayer{
		ID:        uuid.NewString(),
		Address:   address,
		Chain:     c,
		Network:   network,
		Active:    true,
		Source:    source,
		Balance:   domain.Zero(),
		CreatedAt: s.now().UTC(),
	}
	if len(secret) > 0 {
		sealed, err := crypto.Seal(secret, s.cfg.VaultPassword)
		if err != nil {
			return domain.FeePayer{}, fmt.Errorf("feepayer_service: seal key: %w", err)
		}
		fp.EncryptedKey = sealed
	}
	if err := s.store.Create(ctx, fp); err != nil {
		return domain.FeePayer{}, fmt.Errorf("feepayer_service: create %s: %w", address, err)
	}
	if len(secret) > 0 {
		s.keys.Add(address, secret)
	}
	s.logger.InfoContext(ctx, "fee payer added",
		slog.String("chain", string(c)),
		slog.String("address", address),
		slog.String("source", string(source)),
	)
	return fp, nil
}

// Deactivate takes a fee payer out of rotation.
func (s *FeePayerService) Deactivate(ctx context.Context, id string) error {
	if err := s.store.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("feepayer_service: deactivate %s: %w", id, err)
	}
	return nil
}

// Acquire picks the least recently used active fee payer whose cached
// balance meets the chain minimum and whose key is loaded. ok is false
// when none qualifies and the executor should pay.
func (s *FeePayerService) Acquire(ctx context.Context, c domain.Chain, network domain.Network, settings domain.Settings) (fp domain.FeePayer, ok bool, err error) {
	payers, err := s.store.List(ctx, domain.FeePayerFilter{Chain: c, Network: network, ActiveOnly: true})
	if err != nil {
		return domain.FeePayer{}, false, fmt.Errorf("feepayer_service: list: %w", err)
	}
	minBalance := domain.Zero()
	if f, ok := settings.Funding(c); ok {
		minBalance = domain.OrZero(f.MinBalance)
	}

	candidates := payers[:0]
	for _, p := range payers {
		if domain.OrZero(p.Balance).Cmp(minBalance) < 0 {
			continue
		}
		if _, err := s.keys.Secret(p.Address); err != nil {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return domain.FeePayer{}, false, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].LastUsedAt, candidates[j].LastUsedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	fp = candidates[0]
	if err := s.store.MarkUsed(ctx, fp.ID, s.now().UTC()); err != nil {
		return domain.FeePayer{}, false, fmt.Errorf("feepayer_service: mark used: %w", err)
	}
	return fp, true, nil
}

// Sweep sends amount from the executor to the chain's treasury.
func (s *FeePayerService) Sweep(ctx context.Context, c domain.Chain, network domain.Network, amount *big.Int, runID string) (domain.TopUp, error) {
	adapter, err := s.chains.Adapter(c, network)
	if err != nil {
		return domain.TopUp{}, err
	}
	treasury := s.cfg.Funding[c].TreasuryAddress
	t := domain.TopUp{
		ID:            uuid.NewString(),
		Chain:         c,
		Network:       network,
		SourceKind:    domain.FundingExecutor,
		SourceAddress: adapter.ExecutorAddress(),
		Destination:   treasury,
		Amount:        domain.Copy(amount),
		RunID:         runID,
		CreatedAt:     s.now().UTC(),
	}
	if treasury == "" {
		return t, fmt.Errorf("feepayer_service: sweep: no treasury configured for %s", c)
	}
	if !domain.IsPositive(amount) {
		return t, fmt.Errorf("feepayer_service: sweep: amount must be positive")
	}
	settlement, err := adapter.Transfer(ctx, t.SourceAddress, treasury, amount)
	if err != nil {
		t.Status = domain.TopUpFailed
		t.Error = err.Error()
		s.record(ctx, t)
		return t, fmt.Errorf("feepayer_service: sweep: %w", err)
	}
	t.Status = domain.TopUpCompleted
	t.TxSignature = settlement.Reference
	s.record(ctx, t)
	return t, nil
}
