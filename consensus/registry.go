package consensus

import (
	"encoding/binary"

	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/merkle"
)

// BalancesPerChunk is the uint64 packing factor of the balances list: four
// little-endian Gwei values per 32-byte chunk.
const BalancesPerChunk = 4

// RegistryLimit is the SSZ capacity of the validator registry lists.
func RegistryLimit(spec *common.Spec) uint64 {
	return uint64(spec.VALIDATOR_REGISTRY_LIMIT)
}

// ValidatorsTreeDepth is the merkle depth of the validators list body
// (one chunk per validator root).
func ValidatorsTreeDepth(spec *common.Spec) uint8 {
	return tree.CoverDepth(RegistryLimit(spec))
}

// BalancesTreeDepth is the merkle depth of the balances list body. Packing
// four balances per chunk removes two levels relative to the registry limit.
func BalancesTreeDepth(spec *common.Spec) uint8 {
	return ValidatorsTreeDepth(spec) - 2
}

// BalanceChunkCount returns the number of packed chunks covering n balances.
func BalanceChunkCount(n uint64) uint64 {
	return (n + BalancesPerChunk - 1) / BalancesPerChunk
}

// BalanceChunkRoot packs four balances into one little-endian chunk.
func BalanceChunkRoot(chunk [BalancesPerChunk]common.Gwei) tree.Root {
	var root tree.Root
	for i, b := range chunk {
		binary.LittleEndian.PutUint64(root[i*8:], uint64(b))
	}
	return root
}

// BalanceChunks packs a balances list into chunk roots; the tail chunk is
// zero-padded.
func BalanceChunks(balances []common.Gwei) []tree.Root {
	chunks := make([]tree.Root, BalanceChunkCount(uint64(len(balances))))
	for i, b := range balances {
		binary.LittleEndian.PutUint64(chunks[i/BalancesPerChunk][(i%BalancesPerChunk)*8:], uint64(b))
	}
	return chunks
}

// BalancesRoot computes the SSZ hash tree root of the full balances list.
func BalancesRoot(spec *common.Spec, balances []common.Gwei) tree.Root {
	return merkle.ListRoot(BalanceChunks(balances), BalancesTreeDepth(spec), uint64(len(balances)))
}

// ValidatorRoots returns the per-validator hash tree roots in registry order.
func ValidatorRoots(validators []Validator) []tree.Root {
	roots := make([]tree.Root, len(validators))
	for i := range validators {
		roots[i] = validators[i].HashTreeRoot()
	}
	return roots
}

// ValidatorsRoot computes the SSZ hash tree root of the full validator
// registry.
func ValidatorsRoot(spec *common.Spec, validators []Validator) tree.Root {
	return merkle.ListRoot(ValidatorRoots(validators), ValidatorsTreeDepth(spec), uint64(len(validators)))
}

// EpochAt returns the epoch containing the given slot.
func EpochAt(spec *common.Spec, slot common.Slot) common.Epoch {
	return spec.SlotToEpoch(slot)
}
