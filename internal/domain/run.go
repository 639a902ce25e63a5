package domain

import (
	"math/big"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunSimulated RunStatus = "SIMULATED"
	RunExecuted  RunStatus = "EXECUTED"
	RunFailed    RunStatus = "FAILED"
)

// Decision is the risk verdict for a simulated run.
type Decision string

const (
	DecisionPending    Decision = "pending"
	DecisionApproved   Decision = "approved"
	DecisionManualOnly Decision = "manual_only"
	DecisionRejected   Decision = "rejected"
)

// Waterfall is the cost breakdown of a round trip, all in base units.
type Waterfall struct {
	Amount           *big.Int `json:"amount"`
	LegAOut          *big.Int `json:"leg_a_out"`
	LegBOut          *big.Int `json:"leg_b_out"`
	Gross            *big.Int `json:"gross"`
	RouteFeeA        *big.Int `json:"route_fee_a"`
	RouteFeeB        *big.Int `json:"route_fee_b"`
	PriorityFee      *big.Int `json:"priority_fee"`
	ComputeBudgetFee *big.Int `json:"compute_budget_fee"`
	SlippageBuffer   *big.Int `json:"slippage_buffer"`
	FlashLoanFee     *big.Int `json:"flash_loan_fee"`
	TotalCosts       *big.Int `json:"total_costs"`
	Net              *big.Int `json:"net"`
	NetBps           int64    `json:"net_bps"`
	MeetsThresholds  bool     `json:"meets_thresholds"`
}

// GasCost is the execution cost part of the waterfall.
func (w Waterfall) GasCost() *big.Int {
	return Add(w.PriorityFee, w.ComputeBudgetFee)
}

// Run is one attempt of a strategy.
type Run struct {
	ID               string     `json:"id"`
	StrategyID       string     `json:"strategy_id"`
	Chain            Chain      `json:"chain"`
	Network          Network    `json:"network"`
	Purpose          RunPurpose `json:"purpose"`
	Status           RunStatus  `json:"status"`
	InputAmount      *big.Int   `json:"input_amount"`
	LegAOut          *big.Int   `json:"leg_a_out"`
	LegBOut          *big.Int   `json:"leg_b_out"`
	Waterfall        Waterfall  `json:"waterfall"`
	EstimatedProfit  *big.Int   `json:"estimated_profit"`
	EstimatedGasCost *big.Int   `json:"estimated_gas_cost"`
	NetProfitBps     int64      `json:"net_profit_bps"`
	MeetsThresholds  bool       `json:"meets_thresholds"`
	QuoteSimulated   bool       `json:"quote_simulated"`
	Venues           []string   `json:"venues,omitempty"`
	Decision         Decision   `json:"decision"`
	DecisionReason   string     `json:"decision_reason,omitempty"`
	AutoApproved     bool       `json:"auto_approved"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
	RealizedProfit   *big.Int   `json:"realized_profit,omitempty"`
	ProfitDrift      *big.Int   `json:"profit_drift,omitempty"`
	NativeDelta      *big.Int   `json:"native_delta,omitempty"`
	ResidualOutDelta *big.Int   `json:"residual_out_delta,omitempty"`
	TxSignature      string     `json:"tx_signature,omitempty"`
	FeePayer         string     `json:"fee_payer,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	FlashLoanUsed    bool       `json:"flash_loan_used"`
	CreatedAt        time.Time  `json:"created_at"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty"`
}

// RunFinalization is the terminal update applied to a SIMULATED run.
type RunFinalization struct {
	Status           RunStatus
	Waterfall        *Waterfall
	EstimatedProfit  *big.Int
	RealizedProfit   *big.Int
	ProfitDrift      *big.Int
	NativeDelta      *big.Int
	ResidualOutDelta *big.Int
	TxSignature      string
	FeePayer         string
	ErrorMessage     string
	FlashLoanUsed    bool
	FinalizedAt      time.Time
}

// RunFilter narrows run listings.
type RunFilter struct {
	StrategyID string
	Status     RunStatus
	Decision   Decision
}
