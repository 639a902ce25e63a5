package executor

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// ComputeBudgetProgram is the Solana compute budget program.
const ComputeBudgetProgram = "ComputeBudget111111111111111111111111111111"

// MaxComputeUnits is the per-transaction compute unit ceiling.
const MaxComputeUnits = 1_400_000

const (
	setComputeUnitLimit byte = 2
	setComputeUnitPrice byte = 3
)

var phaseOrder = []domain.InstructionPhase{
	domain.PhaseComputeBudget,
	domain.PhaseSetup,
	domain.PhaseSwap,
	domain.PhaseCleanup,
	domain.PhaseOther,
}

// MergeLegs combines the instruction sets of both legs into one settlement
// body, ordered by phase.
//
// Compute budget directives are keyed by program and discriminator: unit
// limits are summed up to MaxComputeUnits and the unit price takes the
// maximum. Other instructions are keyed by program, data and account set
// and keep their first occurrence. Swaps are never deduplicated. Lookup
// tables are deduplicated and sorted.
func MergeLegs(sets ...domain.InstructionSet) domain.InstructionSet {
	byPhase := make(map[domain.InstructionPhase][]domain.Instruction, len(phaseOrder))
	seen := make(map[string]bool)
	budget := make(map[string]int) // key -> index in byPhase[PhaseComputeBudget]

	for _, set := range sets {
		for _, ins := range set.Instructions {
			phase := ins.Phase
			if phase == "" {
				phase = domain.PhaseOther
			}
			switch {
			case phase == domain.PhaseComputeBudget && ins.Program == ComputeBudgetProgram && len(ins.Data) > 0:
				key := ins.Program + ":" + string(ins.Data[:1])
				list := byPhase[phase]
				if i, ok := budget[key]; ok {
					list[i] = mergeBudget(list[i], ins)
					continue
				}
				budget[key] = len(list)
				byPhase[phase] = append(list, cloneInstruction(ins))
			case phase == domain.PhaseSwap:
				byPhase[phase] = append(byPhase[phase], cloneInstruction(ins))
			default:
				key := instructionKey(ins)
				if seen[key] {
					continue
				}
				seen[key] = true
				byPhase[phase] = append(byPhase[phase], cloneInstruction(ins))
			}
		}
	}

	var out domain.InstructionSet
	for _, phase := range phaseOrder {
		for _, ins := range byPhase[phase] {
			ins.Phase = phase
			out.Instructions = append(out.Instructions, ins)
		}
	}
	out.LookupTables = unionTables(sets...)
	return out
}

// mergeBudget folds next into cur. Both share program and discriminator.
func mergeBudget(cur, next domain.Instruction) domain.Instruction {
	switch cur.Data[0] {
	case setComputeUnitLimit:
		if len(cur.Data) < 5 || len(next.Data) < 5 {
			return cur
		}
		total := uint64(binary.LittleEndian.Uint32(cur.Data[1:5])) + uint64(binary.LittleEndian.Uint32(next.Data[1:5]))
		if total > MaxComputeUnits {
			total = MaxComputeUnits
		}
		binary.LittleEndian.PutUint32(cur.Data[1:5], uint32(total))
	case setComputeUnitPrice:
		if len(cur.Data) < 9 || len(next.Data) < 9 {
			return cur
		}
		if binary.LittleEndian.Uint64(next.Data[1:9]) > binary.LittleEndian.Uint64(cur.Data[1:9]) {
			copy(cur.Data[1:9], next.Data[1:9])
		}
	}
	return cur
}

func instructionKey(ins domain.Instruction) string {
	accounts := make([]string, len(ins.Accounts))
	for i, a := range ins.Accounts {
		flags := ""
		if a.IsSigner {
			flags += "s"
		}
		if a.IsWritable {
			flags += "w"
		}
		accounts[i] = a.Pubkey + "/" + flags
	}
	sort.Strings(accounts)
	return ins.Program + "|" + string(ins.Data) + "|" + strings.Join(accounts, ",")
}

func cloneInstruction(ins domain.Instruction) domain.Instruction {
	out := ins
	out.Data = append([]byte(nil), ins.Data...)
	out.Accounts = append([]domain.AccountMeta(nil), ins.Accounts...)
	return out
}

func unionTables(sets ...domain.InstructionSet) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, t := range set.LookupTables {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// wrapFlashLoan places borrow right after the compute budget prefix and
// repay at the very end.
func wrapFlashLoan(body domain.InstructionSet, loan FlashLoanLegs) domain.InstructionSet {
	var prefix, rest []domain.Instruction
	for _, ins := range body.Instructions {
		if ins.Phase == domain.PhaseComputeBudget {
			prefix = append(prefix, ins)
			continue
		}
		rest = append(rest, ins)
	}
	out := domain.InstructionSet{
		Instructions: make([]domain.Instruction, 0, len(body.Instructions)+len(loan.Borrow)+len(loan.Repay)),
	}
	out.Instructions = append(out.Instructions, prefix...)
	out.Instructions = append(out.Instructions, loan.Borrow...)
	out.Instructions = append(out.Instructions, rest...)
	out.Instructions = append(out.Instructions, loan.Repay...)
	out.LookupTables = unionTables(body, domain.InstructionSet{LookupTables: loan.LookupTables})
	return out
}
