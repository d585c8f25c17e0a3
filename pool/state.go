// Package pool maintains the oracle's private view of the staking protocol's
// validators: one leaf per validator index in an incrementally updated merkle
// tree, anchored on-chain as a (slot, root) pair.
package pool

import (
	"fmt"

	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/merkle"
)

// Status is the lifecycle stage of a validator as seen by the oracle.
// Unseen must be the zero value: the empty leaf sentinel is the all-zero
// leaf, so positions never touched by the protocol hash identically.
type Status uint8

const (
	StatusUnseen Status = iota
	StatusDeposited
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusUnseen:
		return "unseen"
	case StatusDeposited:
		return "deposited"
	case StatusExited:
		return "exited"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// StatusFor derives the stage of a registry validator at the given epoch.
// Exit wins over deposit; a validator that never reached eligibility is
// unseen regardless of its pending deposit.
func StatusFor(v *consensus.Validator, epoch common.Epoch) Status {
	if epoch >= v.ExitEpoch {
		return StatusExited
	}
	if epoch >= v.ActivationEligibilityEpoch {
		return StatusDeposited
	}
	return StatusUnseen
}

// StateLeaf is one tree position: the validator index it commits to, the
// lifecycle stage, and the consensus-layer balance. Serialization contract:
// three little-endian uint64/uint8 chunks in declared order, padded to four
// chunks, depth-2 subtree root.
type StateLeaf struct {
	ValidatorIndex common.ValidatorIndex `json:"validator_index"`
	Status         Status                `json:"status"`
	Balance        common.Gwei           `json:"balance"`
}

func (l StateLeaf) FieldLeaves() []tree.Root {
	return []tree.Root{
		merkle.Uint64Root(uint64(l.ValidatorIndex)),
		merkle.Uint64Root(uint64(l.Status)),
		merkle.Uint64Root(uint64(l.Balance)),
	}
}

func (l StateLeaf) HashTreeRoot() tree.Root {
	return merkle.BuildRoot(l.FieldLeaves())
}

// IsEmpty reports whether the leaf is the empty sentinel.
func (l StateLeaf) IsEmpty() bool {
	return l == StateLeaf{}
}

// EmptyLeafRoot is the root every untouched tree position hashes to. The
// empty sentinel is the all-zero leaf, so this equals the depth-2 zero
// subtree root.
func EmptyLeafRoot() tree.Root {
	return tree.ZeroHashes[2]
}

// ValidatorState is the opaque commitment anchored on-chain after each
// accepted report.
type ValidatorState struct {
	Slot       common.Slot `json:"slot"`
	MerkleRoot tree.Root   `json:"merkle_root"`
}

// GenesisState is the root of trust: slot zero, a capacity-one tree holding
// a single empty leaf.
func GenesisState() ValidatorState {
	return ValidatorState{Slot: 0, MerkleRoot: EmptyLeafRoot()}
}

// GenesisCapacity is the leaf capacity of the genesis tree.
const GenesisCapacity = 1
