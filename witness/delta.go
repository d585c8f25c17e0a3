package witness

import (
	"errors"
	"fmt"

	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/pool"
)

var (
	ErrStaleTrackedLeaf = errors.New("tracked leaf beyond registry")
	ErrLeafConflict     = errors.New("tracked leaf conflicts with registry position")
)

// ComputeDelta scans the registry snapshot and emits the minimal ordered set
// of leaf rewrites: one change per credential-matching validator whose
// derived status transitioned or whose balance moved since the tracked leaf
// set (exact inequality; there is no rounding threshold). Validators that
// have not reached deposit eligibility stay out of the tree entirely.
//
// Illegal observed transitions fail here, witness-side, before any proof is
// generated.
func ComputeDelta(
	spec *common.Spec,
	tracked map[uint64]pool.StateLeaf,
	snap *consensus.Snapshot,
	credentials tree.Root,
) ([]pool.LeafChange, error) {
	registrySize := uint64(len(snap.Validators))
	for idx, leaf := range tracked {
		if idx >= registrySize {
			return nil, fmt.Errorf("%w: index %d, registry size %d", ErrStaleTrackedLeaf, idx, registrySize)
		}
		if !leaf.IsEmpty() && uint64(leaf.ValidatorIndex) != idx {
			return nil, fmt.Errorf("%w: position %d holds index %d", ErrLeafConflict, idx, leaf.ValidatorIndex)
		}
	}

	epoch := consensus.EpochAt(spec, snap.Slot)
	var changes []pool.LeafChange
	for i := range snap.Validators {
		v := &snap.Validators[i]
		if v.WithdrawalCredentials != credentials {
			continue
		}
		idx := uint64(i)
		old := tracked[idx]

		status := pool.StatusFor(v, epoch)
		var next pool.StateLeaf
		if status != pool.StatusUnseen {
			next = pool.StateLeaf{
				ValidatorIndex: common.ValidatorIndex(idx),
				Status:         status,
				Balance:        snap.Balances[i],
			}
		}
		if next == old {
			continue
		}
		change := pool.LeafChange{Index: idx, Old: old, New: next}
		if err := pool.CheckTransition(change); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}
