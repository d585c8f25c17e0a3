// Package verifier replays every claim in a program input against the beacon
// block hash anchor. This is the deterministic core that would execute inside
// the proving backend; the host also runs it before requesting a proof.
package verifier

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"
	"github.com/rs/zerolog"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/merkle"
	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/report"
	"github.com/kysee/zk-accounting/witness"
)

// Failure taxonomy. Every rejection wraps exactly one of these.
var (
	// ErrInputMalformed: the input violates structural rules before any
	// cryptographic check (ordering, coverage, shape).
	ErrInputMalformed = errors.New("malformed input")
	// ErrProofVerificationFailed: a hash or proof check against the anchor
	// did not hold.
	ErrProofVerificationFailed = errors.New("proof verification failed")
	// ErrContinuityViolation: the claimed old state cannot precede this
	// report.
	ErrContinuityViolation = errors.New("continuity violation")
	// ErrPolicyViolation: structurally and cryptographically sound, but the
	// claimed delta breaks protocol rules.
	ErrPolicyViolation = errors.New("policy violation")
)

// Verifier checks program inputs and produces the report/metadata pair the
// public values commit to.
type Verifier struct {
	spec *common.Spec
	log  zerolog.Logger
}

func New(spec *common.Spec, log zerolog.Logger) *Verifier {
	return &Verifier{spec: spec, log: log}
}

// Verify walks the full check sequence. The first failing check aborts;
// nothing derived from an unverified claim is ever returned.
func (v *Verifier) Verify(in *witness.Input) (*report.Report, *report.Metadata, error) {
	if in == nil {
		return nil, nil, fmt.Errorf("%w: nil input", ErrInputMalformed)
	}
	if err := v.checkShape(in); err != nil {
		return nil, nil, err
	}
	if err := v.checkAnchors(in); err != nil {
		return nil, nil, err
	}
	if err := v.checkRegistryInclusion(in); err != nil {
		return nil, nil, err
	}

	changes, err := v.deriveChanges(in)
	if err != nil {
		return nil, nil, err
	}
	if err := v.checkTreeUpdate(in, changes); err != nil {
		return nil, nil, err
	}

	aggregates, err := report.ApplyDelta(in.OldAggregates, changes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrPolicyViolation, err)
	}

	vaultBalance, err := v.checkWithdrawalVault(in)
	if err != nil {
		return nil, nil, err
	}

	v.log.Debug().
		Uint64("bc_slot", uint64(in.BcSlot)).
		Int("changes", len(in.Changes)).
		Uint64("deposited", aggregates.Deposited).
		Uint64("exited", aggregates.Exited).
		Msg("input verified")

	rep := &report.Report{
		ReferenceSlot:          in.ReferenceSlot,
		Aggregates:             aggregates,
		WithdrawalVaultBalance: vaultBalance,
	}
	md := &report.Metadata{
		BcSlot:                in.BcSlot,
		Epoch:                 consensus.EpochAt(v.spec, in.BcSlot),
		WithdrawalCredentials: in.WithdrawalCredentials,
		BeaconBlockHash:       in.BeaconBlockHash,
		OldState:              in.OldState,
		NewState:              in.NewState,
		WithdrawalVault: report.WithdrawalVault{
			Balance: vaultBalance,
			Address: in.Vault.Address,
		},
	}
	return rep, md, nil
}

// checkShape enforces the structural rules that hold before any hashing.
func (v *Verifier) checkShape(in *witness.Input) error {
	if in.ReferenceSlot < in.BcSlot {
		return fmt.Errorf("%w: reference slot %d precedes bc slot %d", ErrInputMalformed, in.ReferenceSlot, in.BcSlot)
	}
	if in.OldState.Slot >= in.BcSlot {
		return fmt.Errorf("%w: old state slot %d not before bc slot %d", ErrContinuityViolation, in.OldState.Slot, in.BcSlot)
	}
	if err := in.OldAggregates.Check(); err != nil {
		return fmt.Errorf("%w: old aggregates: %w", ErrContinuityViolation, err)
	}
	if in.BlockHeader.Slot != in.BcSlot {
		return fmt.Errorf("%w: block header slot %d does not match bc slot %d", ErrInputMalformed, in.BlockHeader.Slot, in.BcSlot)
	}
	if in.Vault.Balance == nil {
		return fmt.Errorf("%w: missing vault balance", ErrInputMalformed)
	}
	if in.OldTreeCapacity == 0 || bits.OnesCount64(in.OldTreeCapacity) != 1 {
		return fmt.Errorf("%w: old tree capacity %d is not a power of two", ErrInputMalformed, in.OldTreeCapacity)
	}

	limit := consensus.RegistryLimit(v.spec)
	if in.TotalValidators > limit {
		return fmt.Errorf("%w: total validators %d exceeds registry limit", ErrInputMalformed, in.TotalValidators)
	}
	for i, c := range in.Changes {
		if i > 0 && uint64(in.Changes[i-1].Index) >= uint64(c.Index) {
			return fmt.Errorf("%w: changes not sorted and unique at position %d", ErrInputMalformed, i)
		}
		if uint64(c.Index) >= in.TotalValidators {
			return fmt.Errorf("%w: change index %d beyond registry size %d", ErrInputMalformed, c.Index, in.TotalValidators)
		}
		if _, ok := in.ChunkFor(uint64(c.Index)); !ok {
			return fmt.Errorf("%w: no balance chunk for validator %d", ErrInputMalformed, c.Index)
		}
	}
	chunkCount := consensus.BalanceChunkCount(in.TotalValidators)
	for i, c := range in.BalanceChunks {
		if i > 0 && in.BalanceChunks[i-1].ChunkIndex >= c.ChunkIndex {
			return fmt.Errorf("%w: balance chunks not sorted and unique at position %d", ErrInputMalformed, i)
		}
		if c.ChunkIndex >= chunkCount {
			return fmt.Errorf("%w: balance chunk %d beyond registry", ErrInputMalformed, c.ChunkIndex)
		}
	}
	return nil
}

// checkAnchors binds the state view to the beacon block hash.
func (v *Verifier) checkAnchors(in *witness.Input) error {
	if got := in.BlockHeader.HashTreeRoot(); got != in.BeaconBlockHash {
		return fmt.Errorf("%w: block header root %s does not match beacon block hash %s",
			ErrProofVerificationFailed, got, in.BeaconBlockHash)
	}
	if got := in.State.HashTreeRoot(); got != in.BlockHeader.StateRoot {
		return fmt.Errorf("%w: state root %s does not match header state root %s",
			ErrProofVerificationFailed, got, in.BlockHeader.StateRoot)
	}
	if in.State.Slot != merkle.Uint64Root(uint64(in.BcSlot)) {
		return fmt.Errorf("%w: state slot chunk does not match bc slot %d", ErrProofVerificationFailed, in.BcSlot)
	}
	return nil
}

// checkRegistryInclusion proves the claimed validators and balance chunks
// into the state view's registry roots. The list length mix-in pins the
// claimed total validator count.
func (v *Verifier) checkRegistryInclusion(in *witness.Input) error {
	if len(in.Changes) == 0 {
		return nil
	}

	indices := make([]uint64, len(in.Changes))
	leaves := make([]tree.Root, len(in.Changes))
	for i := range in.Changes {
		indices[i] = uint64(in.Changes[i].Index)
		leaves[i] = in.Changes[i].Validator.HashTreeRoot()
	}
	err := merkle.VerifyListMultiproof(
		in.State.Validators, in.TotalValidators, consensus.ValidatorsTreeDepth(v.spec),
		in.TotalValidators, indices, leaves, &in.ValidatorsProof)
	if err != nil {
		return fmt.Errorf("%w: validators inclusion: %w", ErrProofVerificationFailed, err)
	}

	chunkIndices := make([]uint64, len(in.BalanceChunks))
	chunkLeaves := make([]tree.Root, len(in.BalanceChunks))
	for i, c := range in.BalanceChunks {
		chunkIndices[i] = c.ChunkIndex
		chunkLeaves[i] = consensus.BalanceChunkRoot(c.Balances)
	}
	err = merkle.VerifyListMultiproof(
		in.State.Balances, consensus.BalanceChunkCount(in.TotalValidators), consensus.BalancesTreeDepth(v.spec),
		in.TotalValidators, chunkIndices, chunkLeaves, &in.BalancesProof)
	if err != nil {
		return fmt.Errorf("%w: balances inclusion: %w", ErrProofVerificationFailed, err)
	}
	return nil
}

// deriveChanges turns proven registry data into leaf rewrites. New leaf
// values come exclusively from the proven validator containers and balance
// chunks; the witness only ever claims old leaves.
func (v *Verifier) deriveChanges(in *witness.Input) ([]pool.LeafChange, error) {
	epoch := consensus.EpochAt(v.spec, in.BcSlot)
	changes := make([]pool.LeafChange, 0, len(in.Changes))
	for i := range in.Changes {
		c := &in.Changes[i]
		idx := uint64(c.Index)

		inScope := c.Validator.WithdrawalCredentials == in.WithdrawalCredentials
		if !inScope {
			// Out-of-scope validators never occupy a tree position. They may
			// appear structurally, but only as no-ops.
			if !c.OldLeaf.IsEmpty() {
				return nil, fmt.Errorf("%w: out-of-scope validator %d holds a tree leaf", ErrPolicyViolation, idx)
			}
			changes = append(changes, pool.LeafChange{Index: idx})
			continue
		}

		chunk, ok := in.ChunkFor(idx)
		if !ok {
			return nil, fmt.Errorf("%w: no balance chunk for validator %d", ErrInputMalformed, idx)
		}
		status := pool.StatusFor(&c.Validator, epoch)
		var next pool.StateLeaf
		if status != pool.StatusUnseen {
			next = pool.StateLeaf{
				ValidatorIndex: c.Index,
				Status:         status,
				Balance:        chunk.Balance(idx),
			}
		}
		change := pool.LeafChange{Index: idx, Old: c.OldLeaf, New: next}
		if err := pool.CheckTransition(change); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPolicyViolation, err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// checkTreeUpdate replays the private tree update and pins the claimed new
// state. A mismatch here is fatal: the new root is what the chain will trust.
func (v *Verifier) checkTreeUpdate(in *witness.Input, changes []pool.LeafChange) error {
	newRoot := in.OldState.MerkleRoot
	if len(changes) > 0 {
		var err error
		newRoot, _, err = pool.UpdateRoot(in.OldState.MerkleRoot, in.OldTreeCapacity, changes, &in.TreeProof)
		switch {
		case err == nil:
		case errors.Is(err, pool.ErrCapacityNotPowerOfTwo), errors.Is(err, pool.ErrLeafIndexMismatch):
			return fmt.Errorf("%w: %w", ErrInputMalformed, err)
		default:
			return fmt.Errorf("%w: tree update: %w", ErrProofVerificationFailed, err)
		}
	}
	if in.NewState.Slot != in.BcSlot {
		return fmt.Errorf("%w: new state slot %d does not match bc slot %d", ErrProofVerificationFailed, in.NewState.Slot, in.BcSlot)
	}
	if in.NewState.MerkleRoot != newRoot {
		return fmt.Errorf("%w: claimed new state root %s, computed %s", ErrProofVerificationFailed, in.NewState.MerkleRoot, newRoot)
	}
	return nil
}
