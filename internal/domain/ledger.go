package domain

import (
	"math/big"
	"time"
)

// DailyRiskLedger accumulates executed trades of one strategy on one chain
// for one UTC calendar day.
type DailyRiskLedger struct {
	StrategyID  string    `json:"strategy_id"`
	Chain       Chain     `json:"chain"`
	Day         time.Time `json:"day"`
	TradeCount  int       `json:"trade_count"`
	RealizedPnL *big.Int  `json:"realized_pnl"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DailyTotals aggregates every ledger of a day.
type DailyTotals struct {
	Day         time.Time `json:"day"`
	TradeCount  int       `json:"trade_count"`
	RealizedPnL *big.Int  `json:"realized_pnl"`
}

// LedgerDay truncates t to its UTC calendar day.
func LedgerDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
