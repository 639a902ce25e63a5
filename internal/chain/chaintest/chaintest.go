// Package chaintest provides in-memory chain adapters and quote sources for
// tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// ComputeBudgetProgram is the program id the fake source uses for compute
// budget instructions.
const ComputeBudgetProgram = "ComputeBudget111111111111111111111111111111"

// Adapter is a ChainAdapter backed by an in-memory balance sheet. Native
// balances are kept under the empty token.
type Adapter struct {
	ChainID  domain.Chain
	Net      domain.Network
	Native   string
	Executor string

	PriorityFee  *big.Int
	ComputeFee   *big.Int
	TransferCost *big.Int
	TransferErr  error
	EstimateErr  error
	BalanceErr   error
	// SubmitFunc decides the outcome of a submission. It may move balances
	// through the adapter before returning.
	SubmitFunc func(ctx context.Context, a *Adapter, unit domain.SettlementUnit) (domain.Settlement, error)

	mu        sync.Mutex
	balances  map[string]map[string]*big.Int
	submitted []domain.SettlementUnit
	transfers []Transfer
	seq       int
}

// Transfer records one native transfer.
type Transfer struct {
	From   string
	To     string
	Amount *big.Int
}

// NewAdapter creates an adapter for chain c on mainnet.
func NewAdapter(c domain.Chain, native, executor string) *Adapter {
	return &Adapter{
		ChainID:      c,
		Net:          domain.NetworkMainnet,
		Native:       native,
		Executor:     executor,
		PriorityFee:  big.NewInt(5_000),
		ComputeFee:   big.NewInt(1_000),
		TransferCost: big.NewInt(5_000),
		balances:     make(map[string]map[string]*big.Int),
	}
}

func (a *Adapter) Chain() domain.Chain        { return a.ChainID }
func (a *Adapter) Family() domain.ChainFamily { return domain.FamilySolana }
func (a *Adapter) Network() domain.Network    { return a.Net }
func (a *Adapter) NativeAsset() string        { return a.Native }
func (a *Adapter) ExecutorAddress() string    { return a.Executor }

// SetBalance sets owner's balance of token. An empty token is the native
// asset.
func (a *Adapter) SetBalance(owner, token string, v int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setLocked(owner, token, big.NewInt(v))
}

// AddBalance adds delta to owner's balance of token.
func (a *Adapter) AddBalance(owner, token string, delta *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setLocked(owner, token, domain.Add(a.getLocked(owner, token), delta))
}

// Balance returns owner's balance of token.
func (a *Adapter) Balance(owner, token string) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.Copy(a.getLocked(owner, token))
}

func (a *Adapter) getLocked(owner, token string) *big.Int {
	if m, ok := a.balances[owner]; ok {
		if v, ok := m[token]; ok {
			return v
		}
	}
	return domain.Zero()
}

func (a *Adapter) setLocked(owner, token string, v *big.Int) {
	m, ok := a.balances[owner]
	if !ok {
		m = make(map[string]*big.Int)
		a.balances[owner] = m
	}
	m[token] = v
}

func (a *Adapter) NativeBalance(_ context.Context, address string) (*big.Int, error) {
	if a.BalanceErr != nil {
		return nil, a.BalanceErr
	}
	return a.Balance(address, ""), nil
}

func (a *Adapter) TokenBalance(_ context.Context, owner, token string) (*big.Int, error) {
	if a.BalanceErr != nil {
		return nil, a.BalanceErr
	}
	return a.Balance(owner, token), nil
}

func (a *Adapter) ResolveLookupTables(_ context.Context, addresses []string) (map[string][]string, error) {
	out := make(map[string][]string, len(addresses))
	for _, addr := range addresses {
		out[addr] = []string{addr + "-entry"}
	}
	return out, nil
}

func (a *Adapter) Submit(ctx context.Context, unit domain.SettlementUnit) (domain.Settlement, error) {
	a.mu.Lock()
	a.submitted = append(a.submitted, unit)
	a.seq++
	ref := fmt.Sprintf("sig-%d", a.seq)
	a.mu.Unlock()

	if a.SubmitFunc != nil {
		return a.SubmitFunc(ctx, a, unit)
	}
	return domain.Settlement{Reference: ref, Fee: big.NewInt(5_000), ConfirmedAt: time.Now().UTC()}, nil
}

func (a *Adapter) Transfer(_ context.Context, from, to string, amount *big.Int) (domain.Settlement, error) {
	if a.TransferErr != nil {
		return domain.Settlement{}, a.TransferErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cost := domain.Add(amount, a.TransferCost)
	if a.getLocked(from, "").Cmp(cost) < 0 {
		return domain.Settlement{}, fmt.Errorf("transfer from %s: %w", from, domain.ErrInsufficientFunds)
	}
	a.setLocked(from, "", domain.Sub(a.getLocked(from, ""), cost))
	a.setLocked(to, "", domain.Add(a.getLocked(to, ""), amount))
	a.transfers = append(a.transfers, Transfer{From: from, To: to, Amount: domain.Copy(amount)})
	a.seq++
	return domain.Settlement{Reference: fmt.Sprintf("sig-%d", a.seq), Fee: domain.Copy(a.TransferCost), ConfirmedAt: time.Now().UTC()}, nil
}

func (a *Adapter) EstimatePriorityFee(context.Context) (*big.Int, *big.Int, error) {
	if a.EstimateErr != nil {
		return nil, nil, a.EstimateErr
	}
	return domain.Copy(a.PriorityFee), domain.Copy(a.ComputeFee), nil
}

func (a *Adapter) TransferFee() *big.Int { return domain.Copy(a.TransferCost) }

func (a *Adapter) GenerateKey() (domain.GeneratedKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return domain.GeneratedKey{
		Address: fmt.Sprintf("%s-payer-%d", a.ChainID, a.seq),
		Secret:  []byte(fmt.Sprintf("secret-%d", a.seq)),
	}, nil
}

// Submitted returns every unit passed to Submit.
func (a *Adapter) Submitted() []domain.SettlementUnit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.SettlementUnit(nil), a.submitted...)
}

// Transfers returns every completed transfer.
func (a *Adapter) Transfers() []Transfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Transfer(nil), a.transfers...)
}

var _ domain.ChainAdapter = (*Adapter)(nil)

// Leg configures the fake answer for one input/output pair.
type Leg struct {
	// Num/Den scale the input amount into the output amount.
	Num, Den int64
	Venue    string
	Fallback bool
	NoRoute  bool
	Err      error
}

// Source is a QuoteSource that answers from configured legs.
type Source struct {
	mu     sync.Mutex
	legs   map[string]Leg
	quotes int
	// QuoteHook runs before each answer and may change the configuration.
	QuoteHook func(req domain.QuoteRequest)
	// InstructionsErr fails Instructions when set.
	InstructionsErr error
}

// NewSource creates an empty Source. Unconfigured pairs have no route.
func NewSource() *Source {
	return &Source{legs: make(map[string]Leg)}
}

// SetLeg configures the answer for in -> out.
func (s *Source) SetLeg(in, out string, leg Leg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if leg.Den == 0 {
		leg.Den = 1
	}
	s.legs[in+">"+out] = leg
}

// QuoteCount returns how many quotes were requested.
func (s *Source) QuoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotes
}

func (s *Source) Quote(_ context.Context, req domain.QuoteRequest) (domain.QuoteOutcome, error) {
	if s.QuoteHook != nil {
		s.QuoteHook(req)
	}
	s.mu.Lock()
	s.quotes++
	leg, ok := s.legs[req.InputMint+">"+req.OutputMint]
	s.mu.Unlock()

	switch {
	case !ok || leg.NoRoute:
		return domain.NoRoute{Reason: "no route for " + req.InputMint + " -> " + req.OutputMint}, nil
	case leg.Err != nil:
		return nil, leg.Err
	}

	out := domain.MulDivFloor(req.Amount, big.NewInt(leg.Num), big.NewInt(leg.Den))
	venue := leg.Venue
	if venue == "" {
		venue = "FakeAMM"
	}
	q := domain.Quote{
		InputMint:    req.InputMint,
		OutputMint:   req.OutputMint,
		InAmount:     domain.Copy(req.Amount),
		OutAmount:    out,
		MinOutAmount: domain.Copy(out),
		SlippageBps:  req.SlippageBps,
		Route: []domain.RouteHop{{
			Venue:      venue,
			AmmKey:     venue + "-pool",
			InputMint:  req.InputMint,
			OutputMint: req.OutputMint,
			InAmount:   domain.Copy(req.Amount),
			OutAmount:  domain.Copy(out),
			FeeAmount:  domain.Zero(),
			FeeMint:    req.InputMint,
			Percent:    100,
		}},
		Raw:       []byte(`{"fake":true}`),
		FetchedAt: time.Now().UTC(),
	}
	if leg.Fallback {
		return domain.FallbackQuote{Quote: q, Reason: "live source unavailable"}, nil
	}
	return domain.RealQuote{Quote: q}, nil
}

// Instructions returns a compute budget pair, a shared setup instruction
// and one swap per quote.
func (s *Source) Instructions(_ context.Context, q domain.RealQuote, signer string) (domain.InstructionSet, error) {
	if s.InstructionsErr != nil {
		return domain.InstructionSet{}, s.InstructionsErr
	}
	signerMeta := []domain.AccountMeta{{Pubkey: signer, IsSigner: true, IsWritable: true}}
	return domain.InstructionSet{
		Instructions: []domain.Instruction{
			{Program: ComputeBudgetProgram, Data: []byte{2, 0x40, 0x0d, 0x03, 0x00}, Phase: domain.PhaseComputeBudget},
			{Program: ComputeBudgetProgram, Data: []byte{3, 0xe8, 0x03, 0, 0, 0, 0, 0, 0}, Phase: domain.PhaseComputeBudget},
			{Program: "ATokenProgram", Accounts: signerMeta, Data: []byte{1}, Phase: domain.PhaseSetup},
			{Program: "SwapProgram", Accounts: signerMeta, Data: []byte(q.InputMint + ">" + q.OutputMint), Phase: domain.PhaseSwap},
		},
		LookupTables: sortedTables(q.Route),
	}, nil
}

func sortedTables(route []domain.RouteHop) []string {
	out := make([]string, 0, len(route))
	for _, h := range route {
		out = append(out, h.AmmKey+"-alt")
	}
	sort.Strings(out)
	return out
}

var _ domain.QuoteSource = (*Source)(nil)
