package domain

import (
	"math/big"
	"time"
)

// FeePayerSource records how a fee payer entered the fleet.
type FeePayerSource string

const (
	FeePayerGenerated  FeePayerSource = "generated"
	FeePayerRegistered FeePayerSource = "registered"
)

// FeePayer is a gas-paying wallet. Fee payers are deactivated, never
// deleted.
type FeePayer struct {
	ID               string         `json:"id"`
	Address          string         `json:"address"`
	Chain            Chain          `json:"chain"`
	Network          Network        `json:"network"`
	Active           bool           `json:"active"`
	Source           FeePayerSource `json:"source"`
	Balance          *big.Int       `json:"balance"`
	BalanceUpdatedAt *time.Time     `json:"balance_updated_at,omitempty"`
	UsageCount       int64          `json:"usage_count"`
	LastUsedAt       *time.Time     `json:"last_used_at,omitempty"`
	EncryptedKey     []byte         `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
}

// FeePayerFilter narrows fee payer listings.
type FeePayerFilter struct {
	Chain      Chain
	Network    Network
	ActiveOnly bool
}

// FundingSource names where top-ups come from.
type FundingSource string

const (
	FundingTreasury FundingSource = "treasury"
	FundingExecutor FundingSource = "executor"
	// FundingConfigured uses each chain's configured source.
	FundingConfigured FundingSource = ""
)

// TopUpStatus is the outcome of a top-up attempt.
type TopUpStatus string

const (
	TopUpCompleted TopUpStatus = "completed"
	TopUpFailed    TopUpStatus = "failed"
	TopUpSkipped   TopUpStatus = "skipped"
)

// TopUp is the log row of one funding transfer.
type TopUp struct {
	ID            string        `json:"id"`
	Chain         Chain         `json:"chain"`
	Network       Network       `json:"network"`
	SourceKind    FundingSource `json:"source_kind"`
	SourceAddress string        `json:"source_address"`
	Destination   string        `json:"destination"`
	Amount        *big.Int      `json:"amount"`
	TxSignature   string        `json:"tx_signature,omitempty"`
	Status        TopUpStatus   `json:"status"`
	Error         string        `json:"error,omitempty"`
	RunID         string        `json:"run_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
