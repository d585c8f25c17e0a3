package pool

import (
	"testing"

	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"
	"github.com/stretchr/testify/require"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/merkle"
)

func TestStatusFor(t *testing.T) {
	v := consensus.Validator{
		ActivationEligibilityEpoch: 10,
		ActivationEpoch:            12,
		ExitEpoch:                  20,
		WithdrawableEpoch:          25,
	}
	cases := []struct {
		epoch common.Epoch
		want  Status
	}{
		{9, StatusUnseen},
		{10, StatusDeposited},
		{11, StatusDeposited},
		{19, StatusDeposited},
		{20, StatusExited},
		{100, StatusExited},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, StatusFor(&v, tc.epoch), "epoch %d", tc.epoch)
	}

	fresh := consensus.Validator{
		ActivationEligibilityEpoch: consensus.FarFutureEpoch,
		ActivationEpoch:            consensus.FarFutureEpoch,
		ExitEpoch:                  consensus.FarFutureEpoch,
	}
	require.Equal(t, StatusUnseen, StatusFor(&fresh, 1_000_000))
}

func TestEmptyLeafSentinel(t *testing.T) {
	require.Equal(t, tree.ZeroHashes[2], EmptyLeafRoot())
	require.Equal(t, EmptyLeafRoot(), StateLeaf{}.HashTreeRoot())
	require.True(t, StateLeaf{}.IsEmpty())
	require.False(t, StateLeaf{Status: StatusDeposited}.IsEmpty())
}

func TestLeafRootContract(t *testing.T) {
	leaf := StateLeaf{ValidatorIndex: 7, Status: StatusDeposited, Balance: 32_000_000_000}
	expected := merkle.BuildRoot([]tree.Root{
		merkle.Uint64Root(7),
		merkle.Uint64Root(1),
		merkle.Uint64Root(32_000_000_000),
	})
	require.Equal(t, expected, leaf.HashTreeRoot())
}

func TestCheckTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"deposit", StatusUnseen, StatusDeposited, true},
		{"deposit and exit in one report", StatusUnseen, StatusExited, true},
		{"exit", StatusDeposited, StatusExited, true},
		{"balance only deposited", StatusDeposited, StatusDeposited, true},
		{"balance only exited", StatusExited, StatusExited, true},
		{"resurrect exited", StatusExited, StatusDeposited, false},
		{"unsee exited", StatusExited, StatusUnseen, false},
		{"unsee deposited", StatusDeposited, StatusUnseen, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTransition(LeafChange{
				Index: 3,
				Old:   StateLeaf{ValidatorIndex: 3, Status: tc.from},
				New:   StateLeaf{ValidatorIndex: 3, Status: tc.to},
			})
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrIllegalTransition)
			}
		})
	}
}

func TestCapacity(t *testing.T) {
	cases := map[uint64]uint64{0: 1, 1: 2, 2: 4, 3: 4, 4: 8, 7: 8, 8: 16}
	for maxIndex, want := range cases {
		require.Equal(t, want, Capacity(maxIndex), "max index %d", maxIndex)
	}
}

func TestGenesisState(t *testing.T) {
	g := GenesisState()
	require.Equal(t, common.Slot(0), g.Slot)

	root, err := RootFromLeaves(nil, GenesisCapacity)
	require.NoError(t, err)
	require.Equal(t, root, g.MerkleRoot)
}

func poolLeaf(idx uint64, status Status, balance common.Gwei) StateLeaf {
	return StateLeaf{ValidatorIndex: common.ValidatorIndex(idx), Status: status, Balance: balance}
}

// buildProof generates the multiproof for the given positions over the old
// leaf set at the given capacity, the way the witness builder does.
func buildProof(t *testing.T, leaves map[uint64]StateLeaf, capacity uint64, indices []uint64) *merkle.Multiproof {
	t.Helper()
	roots, err := LeafRoots(leaves, capacity)
	require.NoError(t, err)
	proof, err := merkle.Prove(roots, indices)
	require.NoError(t, err)
	return proof
}

func TestUpdateRootRoundTrip(t *testing.T) {
	old := map[uint64]StateLeaf{
		0: poolLeaf(0, StatusDeposited, 32_000_000_000),
		2: poolLeaf(2, StatusDeposited, 31_500_000_000),
	}
	const capacity = 4
	oldRoot, err := RootFromLeaves(old, capacity)
	require.NoError(t, err)

	changes := []LeafChange{
		{Index: 0, Old: old[0], New: poolLeaf(0, StatusExited, 0)},
		{Index: 2, Old: old[2], New: poolLeaf(2, StatusDeposited, 31_600_000_000)},
		{Index: 3, Old: StateLeaf{}, New: poolLeaf(3, StatusDeposited, 32_000_000_000)},
	}
	proof := buildProof(t, old, capacity, []uint64{0, 2, 3})

	newRoot, newCapacity, err := UpdateRoot(oldRoot, capacity, changes, proof)
	require.NoError(t, err)
	require.Equal(t, uint64(capacity), newCapacity)

	rebuilt, err := RootFromLeaves(map[uint64]StateLeaf{
		0: changes[0].New,
		2: changes[1].New,
		3: changes[2].New,
	}, capacity)
	require.NoError(t, err)
	require.Equal(t, rebuilt, newRoot)
}

func TestUpdateRootGrowthBoundary(t *testing.T) {
	old := map[uint64]StateLeaf{
		0: poolLeaf(0, StatusDeposited, 32_000_000_000),
		1: poolLeaf(1, StatusDeposited, 32_000_000_000),
	}
	const oldCapacity = 2
	oldRoot, err := RootFromLeaves(old, oldCapacity)
	require.NoError(t, err)

	// Index 2 == oldCapacity: first position past the boundary, doubles the tree.
	changes := []LeafChange{
		{Index: 2, Old: StateLeaf{}, New: poolLeaf(2, StatusDeposited, 32_000_000_000)},
	}
	proof := buildProof(t, old, 4, []uint64{2})

	newRoot, newCapacity, err := UpdateRoot(oldRoot, oldCapacity, changes, proof)
	require.NoError(t, err)
	require.Equal(t, uint64(4), newCapacity)

	rebuilt, err := RootFromLeaves(map[uint64]StateLeaf{
		0: old[0],
		1: old[1],
		2: changes[0].New,
	}, 4)
	require.NoError(t, err)
	require.Equal(t, rebuilt, newRoot)
}

func TestUpdateRootGrowthFromGenesis(t *testing.T) {
	g := GenesisState()

	changes := []LeafChange{
		{Index: 5, Old: StateLeaf{}, New: poolLeaf(5, StatusDeposited, 32_000_000_000)},
	}
	proof := buildProof(t, nil, 8, []uint64{5})

	newRoot, newCapacity, err := UpdateRoot(g.MerkleRoot, GenesisCapacity, changes, proof)
	require.NoError(t, err)
	require.Equal(t, uint64(8), newCapacity)

	rebuilt, err := RootFromLeaves(map[uint64]StateLeaf{5: changes[0].New}, 8)
	require.NoError(t, err)
	require.Equal(t, rebuilt, newRoot)
}

func TestUpdateRootRejectsForgedOldLeaf(t *testing.T) {
	old := map[uint64]StateLeaf{
		0: poolLeaf(0, StatusDeposited, 32_000_000_000),
	}
	oldRoot, err := RootFromLeaves(old, 2)
	require.NoError(t, err)

	// claim a different committed balance for leaf 0
	changes := []LeafChange{
		{Index: 0, Old: poolLeaf(0, StatusDeposited, 1), New: poolLeaf(0, StatusExited, 0)},
	}
	proof := buildProof(t, old, 2, []uint64{0})

	_, _, err = UpdateRoot(oldRoot, 2, changes, proof)
	require.ErrorIs(t, err, merkle.ErrRootMismatch)
}

func TestUpdateRootRejectsBadShapes(t *testing.T) {
	old := map[uint64]StateLeaf{0: poolLeaf(0, StatusDeposited, 1)}
	oldRoot, err := RootFromLeaves(old, 2)
	require.NoError(t, err)
	proof := buildProof(t, old, 2, []uint64{0})

	_, _, err = UpdateRoot(oldRoot, 3, []LeafChange{{Index: 0, Old: old[0]}}, proof)
	require.ErrorIs(t, err, ErrCapacityNotPowerOfTwo)

	mismatched := []LeafChange{{Index: 1, Old: old[0], New: poolLeaf(1, StatusDeposited, 1)}}
	_, _, err = UpdateRoot(oldRoot, 2, mismatched, proof)
	require.ErrorIs(t, err, ErrLeafIndexMismatch)

	dup := []LeafChange{
		{Index: 0, Old: old[0], New: poolLeaf(0, StatusDeposited, 2)},
		{Index: 0, Old: old[0], New: poolLeaf(0, StatusDeposited, 3)},
	}
	_, _, err = UpdateRoot(oldRoot, 2, dup, proof)
	require.ErrorIs(t, err, merkle.ErrDuplicateIndex)
}

func TestUpdateRootNoChanges(t *testing.T) {
	root := tree.Root{0xab}
	got, capacity, err := UpdateRoot(root, 8, nil, nil)
	require.NoError(t, err)
	require.Equal(t, root, got)
	require.Equal(t, uint64(8), capacity)
}
