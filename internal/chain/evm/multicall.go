package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const multicall3ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	multicallABI = mustParseABI(multicall3ABI)
	tokenABI     = mustParseABI(erc20ABI)
)

// call3 mirrors Multicall3.Call3.
type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: parse abi: %v", err))
	}
	return parsed
}

// encodeUnit turns the instructions of a settlement unit into a single
// call. One instruction is sent directly; several are batched through
// aggregate3 with allowFailure=false so any failing call reverts all.
func encodeUnit(instrs []domain.Instruction, multicall common.Address) (common.Address, []byte, error) {
	switch len(instrs) {
	case 0:
		return common.Address{}, nil, fmt.Errorf("evm: empty settlement unit")
	case 1:
		if !common.IsHexAddress(instrs[0].Program) {
			return common.Address{}, nil, fmt.Errorf("evm: invalid target %q", instrs[0].Program)
		}
		return common.HexToAddress(instrs[0].Program), instrs[0].Data, nil
	}

	if multicall == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("evm: multicall address required for %d instructions", len(instrs))
	}
	calls := make([]call3, 0, len(instrs))
	for _, ins := range instrs {
		if !common.IsHexAddress(ins.Program) {
			return common.Address{}, nil, fmt.Errorf("evm: invalid target %q", ins.Program)
		}
		calls = append(calls, call3{Target: common.HexToAddress(ins.Program), CallData: ins.Data})
	}
	data, err := multicallABI.Pack("aggregate3", calls)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("evm: pack aggregate3: %w", err)
	}
	return multicall, data, nil
}

func encodeBalanceOf(owner common.Address) ([]byte, error) {
	return tokenABI.Pack("balanceOf", owner)
}

func decodeBalanceOf(out []byte) (*big.Int, error) {
	vals, err := tokenABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("evm: balanceOf returned %d values", len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: balanceOf returned %T", vals[0])
	}
	return v, nil
}
