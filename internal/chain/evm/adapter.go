// Package evm is the chain adapter for EVM chains.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// NativeToken is the pseudo-address quotes use for the native asset.
const NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

const transferGas = 21_000

// Config configures an Adapter.
type Config struct {
	Chain            domain.Chain
	Network          domain.Network
	RPCURL           string
	ChainID          int64
	ExecutorAddress  string
	MulticallAddress string
	// WrappedNative is reported as the native asset when set.
	WrappedNative  string
	GasLimit       uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Adapter submits settlement units to an EVM chain.
type Adapter struct {
	client    *ethclient.Client
	cfg       Config
	chainID   *big.Int
	multicall common.Address
	keys      domain.Keyring
	logger    *slog.Logger
}

// New dials the RPC endpoint and returns an adapter.
func New(ctx context.Context, cfg Config, keys domain.Keyring, logger *slog.Logger) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.Chain, err)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 1_500_000
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Adapter{
		client:    client,
		cfg:       cfg,
		chainID:   big.NewInt(cfg.ChainID),
		multicall: common.HexToAddress(cfg.MulticallAddress),
		keys:      keys,
		logger:    logger.With(slog.String("component", "evm"), slog.String("chain", string(cfg.Chain))),
	}, nil
}

// Close releases the RPC connection.
func (a *Adapter) Close() { a.client.Close() }

func (a *Adapter) Chain() domain.Chain        { return a.cfg.Chain }
func (a *Adapter) Family() domain.ChainFamily { return domain.FamilyEVM }
func (a *Adapter) Network() domain.Network    { return a.cfg.Network }
func (a *Adapter) ExecutorAddress() string    { return a.cfg.ExecutorAddress }

func (a *Adapter) NativeAsset() string {
	if a.cfg.WrappedNative != "" {
		return a.cfg.WrappedNative
	}
	return NativeToken
}

// NativeBalance returns the wei balance of address.
func (a *Adapter) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	bal, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("evm: balance %s: %w", address, err)
	}
	return bal, nil
}

// TokenBalance returns the ERC-20 balance of owner.
func (a *Adapter) TokenBalance(ctx context.Context, owner, token string) (*big.Int, error) {
	if strings.EqualFold(token, NativeToken) {
		return a.NativeBalance(ctx, owner)
	}
	data, err := encodeBalanceOf(common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("evm: pack balanceOf: %w", err)
	}
	to := common.HexToAddress(token)
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf %s: %w", token, err)
	}
	bal, err := decodeBalanceOf(out)
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf %s: %w", token, err)
	}
	return bal, nil
}

// ResolveLookupTables is a no-op: EVM transactions carry full addresses.
func (a *Adapter) ResolveLookupTables(_ context.Context, _ []string) (map[string][]string, error) {
	return map[string][]string{}, nil
}

// Submit sends the unit as one transaction from the first signer and waits
// for its receipt. The sender pays gas, so FeePayer is only used when no
// signer is named.
func (a *Adapter) Submit(ctx context.Context, unit domain.SettlementUnit) (domain.Settlement, error) {
	from := unit.FeePayer
	if len(unit.Signers) > 0 {
		from = unit.Signers[0]
	}
	to, data, err := encodeUnit(unit.Instructions, a.multicall)
	if err != nil {
		return domain.Settlement{}, &domain.SettlementError{Kind: domain.SettlementRejected, Err: err}
	}
	return a.send(ctx, from, to, big.NewInt(0), data, a.cfg.GasLimit)
}

// Transfer moves native value between wallets.
func (a *Adapter) Transfer(ctx context.Context, from, to string, amount *big.Int) (domain.Settlement, error) {
	if !domain.IsPositive(amount) {
		return domain.Settlement{}, fmt.Errorf("evm: transfer amount must be positive")
	}
	return a.send(ctx, from, common.HexToAddress(to), amount, nil, transferGas)
}

// EstimatePriorityFee prices one settlement unit at the configured gas
// limit: the tip is the priority part, the base fee the compute part.
func (a *Adapter) EstimatePriorityFee(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: suggest tip: %w", err)
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: latest header: %w", err)
	}
	base := domain.OrZero(head.BaseFee)
	gas := new(big.Int).SetUint64(a.cfg.GasLimit)
	return new(big.Int).Mul(tip, gas), new(big.Int).Mul(base, gas), nil
}

// TransferFee is a conservative fee for a plain value transfer at 50 gwei.
func (a *Adapter) TransferFee() *big.Int {
	return new(big.Int).Mul(big.NewInt(transferGas), big.NewInt(50_000_000_000))
}

// GenerateKey creates a new secp256k1 wallet.
func (a *Adapter) GenerateKey() (domain.GeneratedKey, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return domain.GeneratedKey{}, fmt.Errorf("evm: generate key: %w", err)
	}
	return domain.GeneratedKey{
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Secret:  ethcrypto.FromECDSA(pk),
	}, nil
}

func (a *Adapter) privateKey(address string) (*ecdsa.PrivateKey, error) {
	secret, err := a.keys.Secret(address)
	if err != nil {
		return nil, err
	}
	pk, err := ethcrypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	return pk, nil
}

func (a *Adapter) send(ctx context.Context, from string, to common.Address, value *big.Int, data []byte, gas uint64) (domain.Settlement, error) {
	reject := func(err error) (domain.Settlement, error) {
		return domain.Settlement{}, &domain.SettlementError{Kind: domain.SettlementRejected, Err: err}
	}

	key, err := a.privateKey(from)
	if err != nil {
		return reject(err)
	}
	sender := ethcrypto.PubkeyToAddress(key.PublicKey)
	nonce, err := a.client.PendingNonceAt(ctx, sender)
	if err != nil {
		return reject(fmt.Errorf("nonce: %w", err))
	}
	tip, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return reject(fmt.Errorf("tip: %w", err))
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return reject(fmt.Errorf("header: %w", err))
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(domain.OrZero(head.BaseFee), big.NewInt(2)), tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), key)
	if err != nil {
		return reject(fmt.Errorf("%w: %v", domain.ErrSigningFailed, err))
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return reject(err)
	}

	ref := signed.Hash().Hex()
	a.logger.InfoContext(ctx, "transaction sent", slog.String("tx", ref), slog.Uint64("nonce", nonce))
	return a.waitReceipt(ctx, signed.Hash())
}

func (a *Adapter) waitReceipt(ctx context.Context, hash common.Hash) (domain.Settlement, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			fee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), domain.OrZero(receipt.EffectiveGasPrice))
			if receipt.Status != types.ReceiptStatusSuccessful {
				return domain.Settlement{}, &domain.SettlementError{
					Kind:      domain.SettlementReverted,
					Reference: hash.Hex(),
					Err:       fmt.Errorf("receipt status %d in block %s", receipt.Status, receipt.BlockNumber),
				}
			}
			return domain.Settlement{
				Reference:   hash.Hex(),
				Slot:        receipt.BlockNumber.Uint64(),
				Fee:         fee,
				ConfirmedAt: time.Now().UTC(),
			}, nil
		case !errors.Is(err, ethereum.NotFound):
			a.logger.WarnContext(ctx, "receipt poll failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return domain.Settlement{}, &domain.SettlementError{
				Kind:      domain.SettlementTimedOut,
				Reference: hash.Hex(),
				Err:       ctx.Err(),
			}
		case <-ticker.C:
		}
	}
}

var _ domain.ChainAdapter = (*Adapter)(nil)
