package domain

import (
	"fmt"
	"math/big"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy tags.
const (
	TagFeePayerRefill = "fee_payer_refill"
	TagTreasuryRefill = "treasury_refill"
)

// RunPurpose says what a successful run's profit is for.
type RunPurpose string

const (
	PurposeManual         RunPurpose = "manual"
	PurposeFeePayerRefill RunPurpose = "fee_payer_refill"
	PurposeTreasuryRefill RunPurpose = "treasury_refill"
)

// RiskLimits bound a single strategy. Zero or nil values disable a limit.
type RiskLimits struct {
	MinProfit         *big.Int        `json:"min_profit,omitempty"`
	MinProfitBps      int64           `json:"min_profit_bps"`
	MinProfitGasRatio decimal.Decimal `json:"min_profit_gas_ratio"`
	MaxDailyLoss      *big.Int        `json:"max_daily_loss,omitempty"`
	MaxTradesPerDay   int             `json:"max_trades_per_day"`
	MaxTradeNotional  *big.Int        `json:"max_trade_notional,omitempty"`
}

// FlashLoanConfig borrows the trade notional instead of using inventory.
type FlashLoanConfig struct {
	Provider   string   `json:"provider"`
	LoanToken  string   `json:"loan_token"`
	LoanAmount *big.Int `json:"loan_amount"`
	FeeBps     int64    `json:"fee_bps"`
}

// Strategy is an operator-defined round trip: TokenIn -> TokenOut -> TokenIn.
type Strategy struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Chain           Chain            `json:"chain"`
	Network         Network          `json:"network"`
	TokenIn         string           `json:"token_in"`
	TokenOut        string           `json:"token_out"`
	TokenInDecimals int32            `json:"token_in_decimals"`
	TradeAmount     *big.Int         `json:"trade_amount"`
	LegAVenues      []string         `json:"leg_a_venues,omitempty"`
	LegBVenues      []string         `json:"leg_b_venues,omitempty"`
	SlippageBps     int              `json:"slippage_bps"`
	Enabled         bool             `json:"enabled"`
	AutoEnabled     bool             `json:"auto_enabled"`
	Risk            RiskLimits       `json:"risk"`
	FlashLoan       *FlashLoanConfig `json:"flash_loan,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Purpose derives the run purpose from the strategy tags.
func (s Strategy) Purpose() RunPurpose {
	switch {
	case slices.Contains(s.Tags, TagFeePayerRefill):
		return PurposeFeePayerRefill
	case slices.Contains(s.Tags, TagTreasuryRefill):
		return PurposeTreasuryRefill
	default:
		return PurposeManual
	}
}

// UsesFlashLoan reports whether the strategy borrows when flash loans are
// globally enabled.
func (s Strategy) UsesFlashLoan(settings Settings) bool {
	return settings.FlashLoansEnabled && s.FlashLoan != nil && IsPositive(s.FlashLoan.LoanAmount)
}

// Notional is the amount the round trip starts with.
func (s Strategy) Notional(settings Settings) *big.Int {
	if s.UsesFlashLoan(settings) {
		return Copy(s.FlashLoan.LoanAmount)
	}
	return Copy(s.TradeAmount)
}

// Validate checks the fields an operator supplies.
func (s Strategy) Validate() error {
	var problems []string
	if s.ID == "" {
		problems = append(problems, "id is required")
	}
	if s.Chain == "" {
		problems = append(problems, "chain is required")
	}
	if s.Network != NetworkMainnet && s.Network != NetworkTestnet {
		problems = append(problems, "network must be mainnet or testnet")
	}
	if s.TokenIn == "" || s.TokenOut == "" {
		problems = append(problems, "token_in and token_out are required")
	} else if s.TokenIn == s.TokenOut {
		problems = append(problems, "token_in and token_out must differ")
	}
	if !IsPositive(s.TradeAmount) {
		problems = append(problems, "trade_amount must be positive")
	}
	if s.SlippageBps < 0 || s.SlippageBps > 10_000 {
		problems = append(problems, "slippage_bps must be within 0..10000")
	}
	if s.FlashLoan != nil && s.FlashLoan.Provider == "" {
		problems = append(problems, "flash_loan.provider is required")
	}
	problems = append(problems, s.Risk.problems()...)
	if len(problems) > 0 {
		return fmt.Errorf("strategy: %s: %w", strings.Join(problems, "; "), ErrInvalidInput)
	}
	return nil
}

// Validate checks that no limit is negative.
func (l RiskLimits) Validate() error {
	if p := l.problems(); len(p) > 0 {
		return fmt.Errorf("risk limits: %s: %w", strings.Join(p, "; "), ErrInvalidInput)
	}
	return nil
}

func (l RiskLimits) problems() []string {
	var out []string
	for name, v := range map[string]*big.Int{
		"min_profit":         l.MinProfit,
		"max_daily_loss":     l.MaxDailyLoss,
		"max_trade_notional": l.MaxTradeNotional,
	} {
		if v != nil && v.Sign() < 0 {
			out = append(out, name+" must not be negative")
		}
	}
	sort.Strings(out)
	if l.MinProfitBps < 0 {
		out = append(out, "min_profit_bps must not be negative")
	}
	if l.MaxTradesPerDay < 0 {
		out = append(out, "max_trades_per_day must not be negative")
	}
	if l.MinProfitGasRatio.IsNegative() {
		out = append(out, "min_profit_gas_ratio must not be negative")
	}
	return out
}
