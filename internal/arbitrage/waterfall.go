// Package arbitrage holds the pure profit math of a two-leg round trip.
package arbitrage

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Thresholds are the profitability gates a round trip must clear.
type Thresholds struct {
	SlippageBufferBps int64
	MinNetProfit      *big.Int
	MinNetProfitBps   int64
	// MaxNotional caps the input amount. Nil means no cap.
	MaxNotional *big.Int
}

// ForStrategy overlays the strategy's risk limits on the global
// thresholds. Strategy minimums win when set; the notional cap is the
// tighter of the two.
func (t Thresholds) ForStrategy(s domain.Strategy) Thresholds {
	out := t
	if s.Risk.MinProfit != nil {
		out.MinNetProfit = domain.Copy(s.Risk.MinProfit)
	}
	if s.Risk.MinProfitBps != 0 {
		out.MinNetProfitBps = s.Risk.MinProfitBps
	}
	if domain.IsPositive(s.Risk.MaxTradeNotional) {
		if out.MaxNotional == nil || s.Risk.MaxTradeNotional.Cmp(out.MaxNotional) < 0 {
			out.MaxNotional = domain.Copy(s.Risk.MaxTradeNotional)
		}
	}
	return out
}

// Inputs feeds Compute. All costs are already expressed in base units.
type Inputs struct {
	Amount           *big.Int
	LegA             domain.Quote
	LegB             domain.Quote
	BaseMint         string
	PriorityFee      *big.Int
	ComputeBudgetFee *big.Int
	FlashLoanFee     *big.Int
	Thresholds       Thresholds
}

// Compute builds the profit waterfall of a round trip. It is a pure
// function of its inputs.
func Compute(in Inputs) (domain.Waterfall, error) {
	amount := domain.OrZero(in.Amount)
	if in.LegA.InAmount == nil || amount.Cmp(in.LegA.InAmount) != 0 {
		return domain.Waterfall{}, fmt.Errorf("arbitrage: leg A input %s != amount %s: %w",
			domain.AmountString(in.LegA.InAmount), amount, domain.ErrLegMismatch)
	}
	if in.LegB.InAmount == nil || in.LegA.OutAmount == nil || in.LegB.InAmount.Cmp(in.LegA.OutAmount) != 0 {
		return domain.Waterfall{}, fmt.Errorf("arbitrage: leg B input %s != leg A output %s: %w",
			domain.AmountString(in.LegB.InAmount), domain.AmountString(in.LegA.OutAmount), domain.ErrLegMismatch)
	}

	w := domain.Waterfall{
		Amount:           domain.Copy(amount),
		LegAOut:          domain.Copy(in.LegA.OutAmount),
		LegBOut:          domain.Copy(domain.OrZero(in.LegB.OutAmount)),
		RouteFeeA:        in.LegA.FeeIn(in.BaseMint),
		RouteFeeB:        in.LegB.FeeIn(in.BaseMint),
		PriorityFee:      domain.Copy(domain.OrZero(in.PriorityFee)),
		ComputeBudgetFee: domain.Copy(domain.OrZero(in.ComputeBudgetFee)),
		SlippageBuffer:   domain.Bps(amount, in.Thresholds.SlippageBufferBps),
		FlashLoanFee:     domain.Copy(domain.OrZero(in.FlashLoanFee)),
	}
	w.Gross = domain.Sub(w.LegBOut, amount)

	total := domain.Zero()
	for _, c := range []*big.Int{w.RouteFeeA, w.RouteFeeB, w.PriorityFee, w.ComputeBudgetFee, w.SlippageBuffer, w.FlashLoanFee} {
		total.Add(total, c)
	}
	w.TotalCosts = total
	w.Net = domain.Sub(w.Gross, total)
	w.NetBps = NetBps(w.Net, amount)
	w.MeetsThresholds = meets(w, amount, in.Thresholds)
	return w, nil
}

// NetBps returns floor(net * 10000 / amount), or 0 when amount <= 0.
func NetBps(net, amount *big.Int) int64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	return domain.MulDivFloor(net, big.NewInt(10_000), amount).Int64()
}

// FlashLoanFee returns ceil(amount * bps / 10000).
func FlashLoanFee(amount *big.Int, bps int64) *big.Int {
	return domain.Bps(amount, bps)
}

func meets(w domain.Waterfall, amount *big.Int, t Thresholds) bool {
	if w.Net.Cmp(domain.OrZero(t.MinNetProfit)) < 0 {
		return false
	}
	if w.NetBps < t.MinNetProfitBps {
		return false
	}
	if t.MaxNotional != nil && amount.Cmp(t.MaxNotional) > 0 {
		return false
	}
	return true
}
