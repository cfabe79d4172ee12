// Package fees provides compute-budget instruction helpers and a
// prioritization-fee estimator for transaction construction. These are
// build-time helpers: compute-budget instructions must be injected before the
// transaction is signed.
package fees

import (
	"context"
	"fmt"
	"sort"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultComputeUnitPrice is the fallback price (micro-lamports per compute
// unit) when the cluster reports no recent prioritization fees.
const DefaultComputeUnitPrice uint64 = 1000

// FeeSource answers recent prioritization fee queries.
// Implemented by the solana client.
type FeeSource interface {
	RecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
}

// ComputeBudgetInstructions builds the compute-unit limit and price
// instructions to prepend to a transaction. A zero limit or price omits the
// corresponding instruction.
func ComputeBudgetInstructions(unitLimit uint32, unitPriceMicroLamports uint64) ([]solana.Instruction, error) {
	var out []solana.Instruction

	if unitLimit > 0 {
		limit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
			SetUnits(unitLimit).
			ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
		}
		out = append(out, limit)
	}

	if unitPriceMicroLamports > 0 {
		price, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
			SetMicroLamports(unitPriceMicroLamports).
			ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
		}
		out = append(out, price)
	}

	return out, nil
}

// EstimatePriorityFee suggests a compute-unit price (micro-lamports) from the
// cluster's recent prioritization fees for the given writable accounts,
// using the requested percentile of the non-zero samples. percentile is
// clamped to [0, 100]. Falls back to DefaultComputeUnitPrice when the
// cluster reports no paid slots.
func EstimatePriorityFee(ctx context.Context, source FeeSource, accounts solana.PublicKeySlice, percentile int) (uint64, error) {
	results, err := source.RecentPrioritizationFees(ctx, accounts)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch recent prioritization fees: %w", err)
	}

	samples := make([]uint64, 0, len(results))
	for _, r := range results {
		if r.PrioritizationFee > 0 {
			samples = append(samples, r.PrioritizationFee)
		}
	}
	if len(samples) == 0 {
		return DefaultComputeUnitPrice, nil
	}

	if percentile < 0 {
		percentile = 0
	}
	if percentile > 100 {
		percentile = 100
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := len(samples) * percentile / 100
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx], nil
}

// computeUnitPriceData mirrors the SetComputeUnitPrice instruction layout:
// a one-byte discriminator followed by the price as little-endian u64.
type computeUnitPriceData struct {
	Discriminator uint8
	MicroLamports uint64
}

const setComputeUnitPriceDiscriminator uint8 = 3

// DecodeComputeUnitPrice extracts the compute-unit price already set on a
// transaction, if any. Returns nil when the message carries no
// SetComputeUnitPrice instruction.
func DecodeComputeUnitPrice(tx *solana.Transaction) (*uint64, error) {
	if tx == nil {
		return nil, nil
	}
	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil || !prog.Equals(computebudget.ProgramID) {
			continue
		}
		if len(inst.Data) == 0 || inst.Data[0] != setComputeUnitPriceDiscriminator {
			continue
		}
		var data computeUnitPriceData
		if err := bin.NewBinDecoder(inst.Data).Decode(&data); err != nil {
			return nil, fmt.Errorf("failed to decode compute unit price instruction: %w", err)
		}
		return &data.MicroLamports, nil
	}
	return nil, nil
}
