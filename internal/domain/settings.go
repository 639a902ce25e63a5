package domain

import (
	"math/big"
	"time"
)

// NetworkMode selects which strategies the orchestrator runs.
type NetworkMode string

const (
	ModeMainnet NetworkMode = "mainnet"
	ModeTestnet NetworkMode = "testnet"
)

// Includes reports whether a strategy on network n runs in this mode.
func (m NetworkMode) Includes(n Network) bool {
	if m == ModeTestnet {
		return n != NetworkMainnet
	}
	return n == NetworkMainnet
}

// ChainFunding holds the fee-payer funding rule of one chain.
type ChainFunding struct {
	MinBalance  *big.Int `json:"min_balance"`
	TopUpAmount *big.Int `json:"top_up_amount"`
}

// Settings is the global singleton. Version increments on every write.
// SafeModeTrips counts trips since the last clear, including those that
// landed while safe mode was already on.
type Settings struct {
	AutomationEnabled    bool                   `json:"automation_enabled"`
	FlashLoansEnabled    bool                   `json:"flash_loans_enabled"`
	SafeMode             bool                   `json:"safe_mode"`
	SafeModeReason       string                 `json:"safe_mode_reason,omitempty"`
	SafeModeAt           *time.Time             `json:"safe_mode_at,omitempty"`
	SafeModeTrips        int                    `json:"safe_mode_trips,omitempty"`
	GlobalMaxDailyLoss   *big.Int               `json:"global_max_daily_loss,omitempty"`
	GlobalMaxDailyTrades int                    `json:"global_max_daily_trades"`
	NetworkMode          NetworkMode            `json:"network_mode"`
	ChainFunding         map[Chain]ChainFunding `json:"chain_funding"`
	Version              int64                  `json:"version"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// Funding returns the funding rule for chain, if any.
func (s Settings) Funding(chain Chain) (ChainFunding, bool) {
	f, ok := s.ChainFunding[chain]
	return f, ok
}

// Clone returns a copy that shares no maps with s.
func (s Settings) Clone() Settings {
	out := s
	out.ChainFunding = make(map[Chain]ChainFunding, len(s.ChainFunding))
	for k, v := range s.ChainFunding {
		out.ChainFunding[k] = v
	}
	return out
}
