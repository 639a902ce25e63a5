// Package solana is the chain adapter for Solana.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// WrappedSOL is the mint quotes use for native SOL.
const WrappedSOL = "So11111111111111111111111111111111111111112"

const lamportsPerSignature = 5_000

// Config configures an Adapter.
type Config struct {
	Chain                         domain.Chain
	Network                       domain.Network
	RPCURL                        string
	ExecutorAddress               string
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
	ConfirmTimeout                time.Duration
	PollInterval                  time.Duration
}

// Adapter submits settlement units as v0 transactions.
type Adapter struct {
	client *rpc.Client
	cfg    Config
	keys   domain.Keyring
	logger *slog.Logger
}

// New returns an adapter for the RPC endpoint in cfg.
func New(cfg Config, keys domain.Keyring, logger *slog.Logger) *Adapter {
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = 400_000
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Adapter{
		client: rpc.New(cfg.RPCURL),
		cfg:    cfg,
		keys:   keys,
		logger: logger.With(slog.String("component", "solana"), slog.String("chain", string(cfg.Chain))),
	}
}

// Close releases the RPC client.
func (a *Adapter) Close() { _ = a.client.Close() }

func (a *Adapter) Chain() domain.Chain        { return a.cfg.Chain }
func (a *Adapter) Family() domain.ChainFamily { return domain.FamilySolana }
func (a *Adapter) Network() domain.Network    { return a.cfg.Network }
func (a *Adapter) NativeAsset() string        { return WrappedSOL }
func (a *Adapter) ExecutorAddress() string    { return a.cfg.ExecutorAddress }

// NativeBalance returns the lamport balance of address.
func (a *Adapter) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("solana: address %q: %w", address, err)
	}
	res, err := a.client.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("solana: balance %s: %w", address, err)
	}
	return new(big.Int).SetUint64(res.Value), nil
}

// TokenBalance returns the balance of owner's associated token account for
// mint. A missing account is a zero balance.
func (a *Adapter) TokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	ownerPK, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("solana: owner %q: %w", owner, err)
	}
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("solana: mint %q: %w", mint, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerPK, mintPK)
	if err != nil {
		return nil, fmt.Errorf("solana: derive token account: %w", err)
	}
	res, err := a.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if strings.Contains(err.Error(), "could not find account") {
			return domain.Zero(), nil
		}
		return nil, fmt.Errorf("solana: token balance %s/%s: %w", owner, mint, err)
	}
	if res.Value == nil {
		return domain.Zero(), nil
	}
	return domain.ParseAmount(res.Value.Amount)
}

// ResolveLookupTables fetches the entries of every table once.
func (a *Adapter) ResolveLookupTables(ctx context.Context, addresses []string) (map[string][]string, error) {
	out := make(map[string][]string, len(addresses))
	for _, addr := range addresses {
		if _, ok := out[addr]; ok {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("solana: lookup table %q: %w", addr, err)
		}
		state, err := addresslookuptable.GetAddressLookupTable(ctx, a.client, pk)
		if err != nil {
			return nil, fmt.Errorf("solana: resolve lookup table %s: %w", addr, err)
		}
		entries := make([]string, 0, len(state.Addresses))
		for _, e := range state.Addresses {
			entries = append(entries, e.String())
		}
		out[addr] = entries
	}
	return out, nil
}

// Submit signs the unit with the fee payer and every named signer, sends
// it and waits for confirmation.
func (a *Adapter) Submit(ctx context.Context, unit domain.SettlementUnit) (domain.Settlement, error) {
	instrs, err := toInstructions(unit.Instructions)
	if err != nil {
		return domain.Settlement{}, rejected(err)
	}
	tables, err := toLookupTables(unit.LookupTables)
	if err != nil {
		return domain.Settlement{}, rejected(err)
	}
	signers := append([]string{unit.FeePayer}, unit.Signers...)
	return a.sendAndConfirm(ctx, instrs, unit.FeePayer, signers, tables)
}

// Transfer moves lamports from one wallet to another. from pays the fee.
func (a *Adapter) Transfer(ctx context.Context, from, to string, amount *big.Int) (domain.Settlement, error) {
	if !domain.IsPositive(amount) || !amount.IsUint64() {
		return domain.Settlement{}, fmt.Errorf("solana: invalid transfer amount %s", domain.AmountString(amount))
	}
	fromPK, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("solana: from %q: %w", from, err)
	}
	toPK, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("solana: to %q: %w", to, err)
	}
	ix := system.NewTransferInstruction(amount.Uint64(), fromPK, toPK).Build()
	return a.sendAndConfirm(ctx, []solana.Instruction{ix}, from, []string{from}, nil)
}

// EstimatePriorityFee prices one unit: the compute unit price times the
// unit limit is the priority part; signature fees are the compute part.
func (a *Adapter) EstimatePriorityFee(_ context.Context) (*big.Int, *big.Int, error) {
	micro := new(big.Int).Mul(
		new(big.Int).SetUint64(uint64(a.cfg.ComputeUnitLimit)),
		new(big.Int).SetUint64(a.cfg.ComputeUnitPriceMicroLamports),
	)
	priority := domain.MulDivCeil(micro, big.NewInt(1), big.NewInt(1_000_000))
	// Fee payer and executor both sign.
	return priority, big.NewInt(2 * lamportsPerSignature), nil
}

// TransferFee is the signature fee of a one-signer transfer.
func (a *Adapter) TransferFee() *big.Int { return big.NewInt(lamportsPerSignature) }

// GenerateKey creates a new ed25519 wallet.
func (a *Adapter) GenerateKey() (domain.GeneratedKey, error) {
	pk, err := solana.NewRandomPrivateKey()
	if err != nil {
		return domain.GeneratedKey{}, fmt.Errorf("solana: generate key: %w", err)
	}
	return domain.GeneratedKey{Address: pk.PublicKey().String(), Secret: []byte(pk)}, nil
}

func (a *Adapter) sendAndConfirm(ctx context.Context, instrs []solana.Instruction, payer string, signers []string, tables map[solana.PublicKey]solana.PublicKeySlice) (domain.Settlement, error) {
	payerPK, err := solana.PublicKeyFromBase58(payer)
	if err != nil {
		return domain.Settlement{}, rejected(fmt.Errorf("fee payer %q: %w", payer, err))
	}
	keys, err := a.signingKeys(signers)
	if err != nil {
		return domain.Settlement{}, rejected(err)
	}

	bh, err := a.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return domain.Settlement{}, rejected(fmt.Errorf("latest blockhash: %w", err))
	}
	opts := []solana.TransactionOption{solana.TransactionPayer(payerPK)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	tx, err := solana.NewTransaction(instrs, bh.Value.Blockhash, opts...)
	if err != nil {
		return domain.Settlement{}, rejected(fmt.Errorf("build transaction: %w", err))
	}
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		return keys[pk]
	}); err != nil {
		return domain.Settlement{}, rejected(fmt.Errorf("%w: %v", domain.ErrSigningFailed, err))
	}

	sig := tx.Signatures[0]

	if _, err := a.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	}); err != nil {
		if nodeDeclined(err) {
			return domain.Settlement{}, &domain.SettlementError{Kind: domain.SettlementRejected, Reference: sig.String(), Err: err}
		}
		// The node may have forwarded the transaction before the response
		// was lost, so it is tracked like a sent one.
		a.logger.WarnContext(ctx, "send outcome unknown, polling signature",
			slog.String("signature", sig.String()),
			slog.String("error", err.Error()),
		)
		return a.waitConfirmed(ctx, sig)
	}
	a.logger.InfoContext(ctx, "transaction sent", slog.String("signature", sig.String()))
	return a.waitConfirmed(ctx, sig)
}

// nodeDeclined reports whether the RPC node answered the send with a
// JSON-RPC error, such as a failed preflight. Such a transaction was never
// forwarded.
func nodeDeclined(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr)
}

func (a *Adapter) waitConfirmed(ctx context.Context, sig solana.Signature) (domain.Settlement, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		res, err := a.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			a.logger.WarnContext(ctx, "signature status poll failed",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
		} else if len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return domain.Settlement{}, &domain.SettlementError{
					Kind:      domain.SettlementReverted,
					Reference: sig.String(),
					Err:       fmt.Errorf("transaction error: %v", st.Err),
				}
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return domain.Settlement{
					Reference:   sig.String(),
					Slot:        st.Slot,
					ConfirmedAt: time.Now().UTC(),
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return domain.Settlement{}, &domain.SettlementError{
				Kind:      domain.SettlementTimedOut,
				Reference: sig.String(),
				Err:       ctx.Err(),
			}
		case <-ticker.C:
		}
	}
}

func (a *Adapter) signingKeys(addresses []string) (map[solana.PublicKey]*solana.PrivateKey, error) {
	keys := make(map[solana.PublicKey]*solana.PrivateKey, len(addresses))
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", addr, err)
		}
		if _, ok := keys[pk]; ok {
			continue
		}
		secret, err := a.keys.Secret(addr)
		if err != nil {
			return nil, err
		}
		if len(secret) != 64 {
			return nil, fmt.Errorf("%w: signer %s: secret is %d bytes, want 64", domain.ErrSigningFailed, addr, len(secret))
		}
		priv := solana.PrivateKey(secret)
		keys[pk] = &priv
	}
	return keys, nil
}

func rejected(err error) error {
	return &domain.SettlementError{Kind: domain.SettlementRejected, Err: err}
}

var _ domain.ChainAdapter = (*Adapter)(nil)
