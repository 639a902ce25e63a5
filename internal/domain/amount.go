package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amounts are integers in the asset's smallest unit. A nil *big.Int is
// treated as zero by every helper here.

// Zero returns a fresh zero amount.
func Zero() *big.Int { return new(big.Int) }

// Amount builds an amount from an int64.
func Amount(v int64) *big.Int { return big.NewInt(v) }

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return Zero(), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// OrZero returns v, or a fresh zero when v is nil.
func OrZero(v *big.Int) *big.Int {
	if v == nil {
		return Zero()
	}
	return v
}

// Copy returns a deep copy of v, preserving nil.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// IsPositive reports whether v > 0.
func IsPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// Add returns a + b.
func Add(a, b *big.Int) *big.Int { return new(big.Int).Add(OrZero(a), OrZero(b)) }

// Sub returns a - b.
func Sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(OrZero(a), OrZero(b)) }

// MulDivCeil returns ceil(v * num / den) for non-negative operands.
func MulDivCeil(v, num, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		return Zero()
	}
	n := new(big.Int).Mul(OrZero(v), OrZero(num))
	q, r := new(big.Int).QuoRem(n, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MulDivFloor returns floor(v * num / den).
func MulDivFloor(v, num, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		return Zero()
	}
	n := new(big.Int).Mul(OrZero(v), OrZero(num))
	return n.Div(n, den)
}

// Bps returns ceil(v * bps / 10000).
func Bps(v *big.Int, bps int64) *big.Int {
	return MulDivCeil(v, big.NewInt(bps), big.NewInt(10_000))
}

// LossMagnitude returns max(0, -pnl).
func LossMagnitude(pnl *big.Int) *big.Int {
	if pnl == nil || pnl.Sign() >= 0 {
		return Zero()
	}
	return new(big.Int).Neg(pnl)
}

// FormatUnits renders an amount with the given number of decimals for
// logs and notifications.
func FormatUnits(v *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(OrZero(v), -decimals).String()
}

// AmountString renders an amount for storage, mapping nil to "".
func AmountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
