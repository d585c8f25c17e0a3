package witness

import (
	"fmt"
	"sort"

	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/merkle"
	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/report"
)

// BuildParams is everything the builder needs besides the snapshot: the
// oracle's tracked previous state and the execution-layer vault claim.
type BuildParams struct {
	Spec                  *common.Spec
	WithdrawalCredentials tree.Root
	ReferenceSlot         common.Slot

	OldState      pool.ValidatorState
	OldCapacity   uint64
	OldLeaves     map[uint64]pool.StateLeaf
	OldAggregates report.Aggregates

	Vault VaultData
}

// Build assembles the full program input from a beacon state snapshot: it
// computes the delta, generates every multiproof the verifier will replay,
// and derives the claimed new validator state. The returned changes let the
// host advance its tracked leaf set once the report is accepted.
func Build(params BuildParams, snap *consensus.Snapshot) (*Input, []pool.LeafChange, error) {
	if err := snap.Check(); err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}
	if params.ReferenceSlot < snap.Slot {
		return nil, nil, fmt.Errorf("reference slot %d precedes snapshot slot %d", params.ReferenceSlot, snap.Slot)
	}

	changes, err := ComputeDelta(params.Spec, params.OldLeaves, snap, params.WithdrawalCredentials)
	if err != nil {
		return nil, nil, fmt.Errorf("compute delta: %w", err)
	}

	view := snap.View(params.Spec)
	header := snap.BlockHeader
	header.StateRoot = view.HashTreeRoot()

	in := &Input{
		ReferenceSlot:         params.ReferenceSlot,
		BcSlot:                snap.Slot,
		BeaconBlockHash:       header.HashTreeRoot(),
		BlockHeader:           header,
		State:                 *view,
		TotalValidators:       uint64(len(snap.Validators)),
		WithdrawalCredentials: params.WithdrawalCredentials,
		OldAggregates:         params.OldAggregates,
		OldState:              params.OldState,
		OldTreeCapacity:       params.OldCapacity,
		Vault:                 params.Vault,
	}

	if err := buildRegistryProofs(in, params.Spec, snap, changes); err != nil {
		return nil, nil, err
	}
	if err := buildTreeUpdate(in, params, changes); err != nil {
		return nil, nil, err
	}
	if err := buildExecutionHeaderProof(in, snap); err != nil {
		return nil, nil, err
	}
	return in, changes, nil
}

func buildRegistryProofs(in *Input, spec *common.Spec, snap *consensus.Snapshot, changes []pool.LeafChange) error {
	if len(changes) == 0 {
		return nil
	}

	indices := make([]uint64, len(changes))
	in.Changes = make([]Change, len(changes))
	for i, c := range changes {
		indices[i] = c.Index
		in.Changes[i] = Change{
			Index:     common.ValidatorIndex(c.Index),
			Validator: snap.Validators[c.Index],
			OldLeaf:   c.Old,
		}
	}

	validatorsProof, err := merkle.Prove(consensus.ValidatorRoots(snap.Validators), indices)
	if err != nil {
		return fmt.Errorf("validators proof: %w", err)
	}
	in.ValidatorsProof = *validatorsProof

	chunkIndexSet := map[uint64]struct{}{}
	for _, idx := range indices {
		chunkIndexSet[idx/consensus.BalancesPerChunk] = struct{}{}
	}
	chunkIndices := make([]uint64, 0, len(chunkIndexSet))
	for ci := range chunkIndexSet {
		chunkIndices = append(chunkIndices, ci)
	}
	sort.Slice(chunkIndices, func(i, j int) bool { return chunkIndices[i] < chunkIndices[j] })

	in.BalanceChunks = make([]BalanceChunk, len(chunkIndices))
	for i, ci := range chunkIndices {
		chunk := BalanceChunk{ChunkIndex: ci}
		for j := 0; j < consensus.BalancesPerChunk; j++ {
			if pos := ci*consensus.BalancesPerChunk + uint64(j); pos < uint64(len(snap.Balances)) {
				chunk.Balances[j] = snap.Balances[pos]
			}
		}
		in.BalanceChunks[i] = chunk
	}

	balancesProof, err := merkle.Prove(consensus.BalanceChunks(snap.Balances), chunkIndices)
	if err != nil {
		return fmt.Errorf("balances proof: %w", err)
	}
	in.BalancesProof = *balancesProof
	return nil
}

func buildTreeUpdate(in *Input, params BuildParams, changes []pool.LeafChange) error {
	if len(changes) == 0 {
		// Nothing moved: the claimed new state re-anchors the old root at the
		// snapshot slot.
		in.NewState = pool.ValidatorState{Slot: in.BcSlot, MerkleRoot: params.OldState.MerkleRoot}
		return nil
	}

	capacity := params.OldCapacity
	indices := make([]uint64, len(changes))
	for i, c := range changes {
		indices[i] = c.Index
		if need := pool.Capacity(c.Index); need > capacity {
			capacity = need
		}
	}

	oldRoots, err := pool.LeafRoots(params.OldLeaves, capacity)
	if err != nil {
		return fmt.Errorf("old tree leaves: %w", err)
	}
	treeProof, err := merkle.Prove(oldRoots, indices)
	if err != nil {
		return fmt.Errorf("tree proof: %w", err)
	}
	in.TreeProof = *treeProof

	newRoot, err := pool.RootFromLeaves(pool.ApplyChanges(params.OldLeaves, changes), capacity)
	if err != nil {
		return fmt.Errorf("new tree root: %w", err)
	}
	in.NewState = pool.ValidatorState{Slot: in.BcSlot, MerkleRoot: newRoot}
	return nil
}

func buildExecutionHeaderProof(in *Input, snap *consensus.Snapshot) error {
	proof, err := merkle.Prove(snap.ExecutionHeader.FieldLeaves(), []uint64{consensus.ExecFieldStateRoot})
	if err != nil {
		return fmt.Errorf("execution header proof: %w", err)
	}
	in.ExecutionHeader = ExecutionHeaderData{
		StateRoot: snap.ExecutionHeader.StateRoot,
		Proof:     *proof,
	}
	return nil
}
