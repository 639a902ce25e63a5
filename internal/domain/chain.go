package domain

import (
	"context"
	"math/big"
	"time"
)

// Chain names a settlement chain, e.g. "solana" or "base".
type Chain string

// ChainFamily groups chains that share an execution model.
type ChainFamily string

const (
	FamilySolana ChainFamily = "solana"
	FamilyEVM    ChainFamily = "evm"
)

// Network distinguishes production from test deployments.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// AccountMeta is one account reference of an instruction.
type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// InstructionPhase places an instruction within a settlement unit.
type InstructionPhase string

const (
	PhaseComputeBudget InstructionPhase = "compute_budget"
	PhaseSetup         InstructionPhase = "setup"
	PhaseSwap          InstructionPhase = "swap"
	PhaseCleanup       InstructionPhase = "cleanup"
	PhaseOther         InstructionPhase = "other"
)

// Instruction is a chain-agnostic program call. On EVM chains Program is
// the target contract and Data the calldata.
type Instruction struct {
	Program  string           `json:"program"`
	Accounts []AccountMeta    `json:"accounts"`
	Data     []byte           `json:"data"`
	Phase    InstructionPhase `json:"phase"`
}

// InstructionSet is what a quote source returns for one leg.
type InstructionSet struct {
	Instructions []Instruction
	LookupTables []string
}

// SettlementUnit is the single atomic transaction submitted for a run.
type SettlementUnit struct {
	Instructions []Instruction
	// LookupTables maps table address to its resolved entries.
	LookupTables map[string][]string
	FeePayer     string
	Signers      []string
}

// Settlement is a confirmed submission.
type Settlement struct {
	Reference   string
	Slot        uint64
	Fee         *big.Int
	ConfirmedAt time.Time
}

// GeneratedKey is a freshly generated wallet.
type GeneratedKey struct {
	Address string
	Secret  []byte
}

// ChainAdapter is the chain execution contract used by the engine, the
// fee-payer manager and the refill worker.
type ChainAdapter interface {
	Chain() Chain
	Family() ChainFamily
	Network() Network
	// NativeAsset is the token address that stands for the native asset in
	// quotes, e.g. the wrapped SOL mint.
	NativeAsset() string
	ExecutorAddress() string

	NativeBalance(ctx context.Context, address string) (*big.Int, error)
	TokenBalance(ctx context.Context, owner, token string) (*big.Int, error)
	ResolveLookupTables(ctx context.Context, addresses []string) (map[string][]string, error)
	// Submit blocks until the unit is confirmed or fails. Failures are
	// returned as *SettlementError.
	Submit(ctx context.Context, unit SettlementUnit) (Settlement, error)
	Transfer(ctx context.Context, from, to string, amount *big.Int) (Settlement, error)
	// EstimatePriorityFee returns the expected priority and compute budget
	// cost of one settlement unit in native units.
	EstimatePriorityFee(ctx context.Context) (priority, computeBudget *big.Int, err error)
	TransferFee() *big.Int
	GenerateKey() (GeneratedKey, error)
}

// Keyring resolves signing secrets by address.
type Keyring interface {
	Secret(address string) ([]byte, error)
	Add(address string, secret []byte)
}
