package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDivRounding(t *testing.T) {
	assert.Equal(t, int64(4), MulDivCeil(big.NewInt(10), big.NewInt(1), big.NewInt(3)).Int64())
	assert.Equal(t, int64(3), MulDivFloor(big.NewInt(10), big.NewInt(1), big.NewInt(3)).Int64())
	// Floor of a negative quotient goes toward negative infinity.
	assert.Equal(t, int64(-4), MulDivFloor(big.NewInt(-10), big.NewInt(1), big.NewInt(3)).Int64())
	assert.Equal(t, int64(0), MulDivCeil(big.NewInt(10), big.NewInt(1), big.NewInt(0)).Int64())
}

func TestBps(t *testing.T) {
	assert.Equal(t, int64(50_000), Bps(big.NewInt(100_000_000), 5).Int64())
	assert.Equal(t, int64(1), Bps(big.NewInt(1), 1).Int64())
}

func TestLossMagnitude(t *testing.T) {
	assert.Equal(t, int64(0), LossMagnitude(nil).Int64())
	assert.Equal(t, int64(0), LossMagnitude(big.NewInt(5)).Int64())
	assert.Equal(t, int64(5), LossMagnitude(big.NewInt(-5)).Int64())
}

func TestParseAndFormat(t *testing.T) {
	v, err := ParseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	_, err = ParseAmount("1.5")
	assert.Error(t, err)

	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "-0.25", FormatUnits(big.NewInt(-250_000), 6))
}

func TestLedgerDayUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	ts := time.Date(2026, 3, 2, 3, 0, 0, 0, loc) // 2026-03-01 18:00 UTC
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), LedgerDay(ts))
}

func TestNetworkModeIncludes(t *testing.T) {
	assert.True(t, ModeMainnet.Includes(NetworkMainnet))
	assert.False(t, ModeMainnet.Includes(NetworkTestnet))
	assert.True(t, ModeTestnet.Includes(NetworkTestnet))
	assert.False(t, ModeTestnet.Includes(NetworkMainnet))
}
