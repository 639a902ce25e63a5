package executor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// snapshot holds the executor balances around a settlement.
type snapshot struct {
	Native   *big.Int
	TokenIn  *big.Int
	TokenOut *big.Int
}

func takeSnapshot(ctx context.Context, adapter domain.ChainAdapter, st domain.Strategy) (snapshot, error) {
	owner := adapter.ExecutorAddress()
	native, err := adapter.NativeBalance(ctx, owner)
	if err != nil {
		return snapshot{}, fmt.Errorf("snapshot native balance: %w", err)
	}
	in, err := adapter.TokenBalance(ctx, owner, st.TokenIn)
	if err != nil {
		return snapshot{}, fmt.Errorf("snapshot %s balance: %w", st.TokenIn, err)
	}
	out, err := adapter.TokenBalance(ctx, owner, st.TokenOut)
	if err != nil {
		return snapshot{}, fmt.Errorf("snapshot %s balance: %w", st.TokenOut, err)
	}
	return snapshot{Native: native, TokenIn: in, TokenOut: out}, nil
}

// Accounting is the realized result of one settlement.
type Accounting struct {
	// NativeBase is set when the round trip starts in the native asset or
	// its wrapped form.
	NativeBase       bool
	Realized         *big.Int
	NativeDelta      *big.Int
	ResidualOutDelta *big.Int
}

// Reconcile derives realized profit from balance deltas in the base asset
// tokenIn. With a native base the native and wrapped deltas are summed.
// With a token base only the token delta counts and the native delta is
// reported apart. The intermediate token delta is never attributed.
func Reconcile(before, after snapshot, nativeAsset, tokenIn string) Accounting {
	acct := Accounting{
		NativeBase:       tokenIn == nativeAsset,
		NativeDelta:      domain.Sub(after.Native, before.Native),
		ResidualOutDelta: domain.Sub(after.TokenOut, before.TokenOut),
	}
	tokenDelta := domain.Sub(after.TokenIn, before.TokenIn)
	if acct.NativeBase {
		acct.Realized = domain.Add(tokenDelta, acct.NativeDelta)
	} else {
		acct.Realized = tokenDelta
	}
	return acct
}
