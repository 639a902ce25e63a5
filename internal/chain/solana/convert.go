package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func toInstructions(in []domain.Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(in))
	for i, ins := range in {
		program, err := solana.PublicKeyFromBase58(ins.Program)
		if err != nil {
			return nil, fmt.Errorf("instruction %d program %q: %w", i, ins.Program, err)
		}
		metas := make(solana.AccountMetaSlice, 0, len(ins.Accounts))
		for _, acc := range ins.Accounts {
			pk, err := solana.PublicKeyFromBase58(acc.Pubkey)
			if err != nil {
				return nil, fmt.Errorf("instruction %d account %q: %w", i, acc.Pubkey, err)
			}
			metas = append(metas, solana.NewAccountMeta(pk, acc.IsWritable, acc.IsSigner))
		}
		out = append(out, solana.NewInstruction(program, metas, ins.Data))
	}
	return out, nil
}

func toLookupTables(in map[string][]string) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	out := make(map[solana.PublicKey]solana.PublicKeySlice, len(in))
	for table, entries := range in {
		tablePK, err := solana.PublicKeyFromBase58(table)
		if err != nil {
			return nil, fmt.Errorf("lookup table %q: %w", table, err)
		}
		keys := make(solana.PublicKeySlice, 0, len(entries))
		for _, e := range entries {
			pk, err := solana.PublicKeyFromBase58(e)
			if err != nil {
				return nil, fmt.Errorf("lookup table %s entry %q: %w", table, e, err)
			}
			keys = append(keys, pk)
		}
		out[tablePK] = keys
	}
	return out, nil
}
