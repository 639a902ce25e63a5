package jupiter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// QuoteParams are the query parameters of GET /quote.
type QuoteParams struct {
	InputMint   string
	OutputMint  string
	Amount      string
	SlippageBps int
	Dexes       []string
}

// QuoteResponse is the body of GET /quote. Raw keeps the exact payload for
// the swap-instructions call.
type QuoteResponse struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`
	ContextSlot          uint64          `json:"contextSlot"`
	Raw                  json.RawMessage `json:"-"`
}

// RoutePlanStep is one hop of the route plan.
type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

// SwapInfo describes the AMM used by a hop.
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// errorResponse is the body Jupiter returns on 4xx.
type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// SwapInstructionsRequest is the body of POST /swap-instructions.
type SwapInstructionsRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
	ComputeUnitPriceMicroLamports int64           `json:"computeUnitPriceMicroLamports,omitempty"`
}

// SwapInstructionsResponse is the body of POST /swap-instructions.
type SwapInstructionsResponse struct {
	ComputeBudgetInstructions   []APIInstruction `json:"computeBudgetInstructions"`
	SetupInstructions           []APIInstruction `json:"setupInstructions"`
	SwapInstruction             *APIInstruction  `json:"swapInstruction"`
	CleanupInstruction          *APIInstruction  `json:"cleanupInstruction"`
	OtherInstructions           []APIInstruction `json:"otherInstructions"`
	AddressLookupTableAddresses []string         `json:"addressLookupTableAddresses"`
}

// APIInstruction is a serialized Solana instruction.
type APIInstruction struct {
	ProgramID string       `json:"programId"`
	Accounts  []APIAccount `json:"accounts"`
	Data      string       `json:"data"`
}

// APIAccount is one account meta of an APIInstruction.
type APIAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// ToDomainQuote converts a quote response into a domain quote.
func (q *QuoteResponse) ToDomainQuote(fetchedAt time.Time) (domain.Quote, error) {
	in, err := domain.ParseAmount(q.InAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("inAmount: %w", err)
	}
	out, err := domain.ParseAmount(q.OutAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("outAmount: %w", err)
	}
	minOut, err := domain.ParseAmount(q.OtherAmountThreshold)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("otherAmountThreshold: %w", err)
	}

	hops := make([]domain.RouteHop, 0, len(q.RoutePlan))
	for i, step := range q.RoutePlan {
		hop, err := step.toDomainHop()
		if err != nil {
			return domain.Quote{}, fmt.Errorf("routePlan[%d]: %w", i, err)
		}
		hops = append(hops, hop)
	}

	return domain.Quote{
		InputMint:      q.InputMint,
		OutputMint:     q.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		MinOutAmount:   minOut,
		SlippageBps:    q.SlippageBps,
		PriceImpactPct: q.PriceImpactPct,
		Route:          hops,
		Raw:            q.Raw,
		FetchedAt:      fetchedAt,
	}, nil
}

func (s RoutePlanStep) toDomainHop() (domain.RouteHop, error) {
	in, err := domain.ParseAmount(s.SwapInfo.InAmount)
	if err != nil {
		return domain.RouteHop{}, err
	}
	out, err := domain.ParseAmount(s.SwapInfo.OutAmount)
	if err != nil {
		return domain.RouteHop{}, err
	}
	fee, err := domain.ParseAmount(s.SwapInfo.FeeAmount)
	if err != nil {
		return domain.RouteHop{}, err
	}
	return domain.RouteHop{
		Venue:      s.SwapInfo.Label,
		AmmKey:     s.SwapInfo.AmmKey,
		InputMint:  s.SwapInfo.InputMint,
		OutputMint: s.SwapInfo.OutputMint,
		InAmount:   in,
		OutAmount:  out,
		FeeAmount:  fee,
		FeeMint:    s.SwapInfo.FeeMint,
		Percent:    s.Percent,
	}, nil
}

// ToDomainInstructionSet flattens the response into phase-tagged
// instructions in execution order.
func (r *SwapInstructionsResponse) ToDomainInstructionSet() (domain.InstructionSet, error) {
	var set domain.InstructionSet
	add := func(phase domain.InstructionPhase, ins *APIInstruction) error {
		if ins == nil {
			return nil
		}
		d, err := ins.toDomain(phase)
		if err != nil {
			return err
		}
		set.Instructions = append(set.Instructions, d)
		return nil
	}

	for i := range r.ComputeBudgetInstructions {
		if err := add(domain.PhaseComputeBudget, &r.ComputeBudgetInstructions[i]); err != nil {
			return set, err
		}
	}
	for i := range r.SetupInstructions {
		if err := add(domain.PhaseSetup, &r.SetupInstructions[i]); err != nil {
			return set, err
		}
	}
	if r.SwapInstruction == nil {
		return set, fmt.Errorf("response has no swap instruction")
	}
	if err := add(domain.PhaseSwap, r.SwapInstruction); err != nil {
		return set, err
	}
	if err := add(domain.PhaseCleanup, r.CleanupInstruction); err != nil {
		return set, err
	}
	for i := range r.OtherInstructions {
		if err := add(domain.PhaseOther, &r.OtherInstructions[i]); err != nil {
			return set, err
		}
	}
	set.LookupTables = append(set.LookupTables, r.AddressLookupTableAddresses...)
	return set, nil
}

func (ins *APIInstruction) toDomain(phase domain.InstructionPhase) (domain.Instruction, error) {
	data, err := base64.StdEncoding.DecodeString(ins.Data)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("decode %s instruction data: %w", phase, err)
	}
	accounts := make([]domain.AccountMeta, 0, len(ins.Accounts))
	for _, a := range ins.Accounts {
		accounts = append(accounts, domain.AccountMeta{Pubkey: a.Pubkey, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}
	return domain.Instruction{Program: ins.ProgramID, Accounts: accounts, Data: data, Phase: phase}, nil
}
