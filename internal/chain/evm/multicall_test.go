package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const (
	routerA   = "0x1111111111111111111111111111111111111111"
	routerB   = "0x2222222222222222222222222222222222222222"
	multicall = "0xcA11bde05977b3631167028862bE2a173976CA11"
)

func TestEncodeUnitSingleCall(t *testing.T) {
	to, data, err := encodeUnit([]domain.Instruction{{Program: routerA, Data: []byte{1, 2}}}, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(routerA), to)
	assert.Equal(t, []byte{1, 2}, data)
}

func TestEncodeUnitBatchesThroughMulticall(t *testing.T) {
	instrs := []domain.Instruction{
		{Program: routerA, Data: []byte{0xaa}},
		{Program: routerB, Data: []byte{0xbb}},
	}
	to, data, err := encodeUnit(instrs, common.HexToAddress(multicall))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(multicall), to)
	assert.Equal(t, multicallABI.Methods["aggregate3"].ID, data[:4])

	args, err := multicallABI.Methods["aggregate3"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 1)
}

func TestEncodeUnitErrors(t *testing.T) {
	_, _, err := encodeUnit(nil, common.HexToAddress(multicall))
	assert.Error(t, err)

	_, _, err = encodeUnit([]domain.Instruction{{Program: routerA}, {Program: routerB}}, common.Address{})
	assert.Error(t, err)

	_, _, err = encodeUnit([]domain.Instruction{{Program: "not-an-address"}}, common.Address{})
	assert.Error(t, err)
}

func TestBalanceOfRoundTrip(t *testing.T) {
	data, err := encodeBalanceOf(common.HexToAddress(routerA))
	require.NoError(t, err)
	assert.Equal(t, tokenABI.Methods["balanceOf"].ID, data[:4])

	out := common.LeftPadBytes(big.NewInt(12345).Bytes(), 32)
	bal, err := decodeBalanceOf(out)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), bal.Int64())
}
