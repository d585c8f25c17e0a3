package pool

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/merkle"
)

var (
	ErrCapacityNotPowerOfTwo = errors.New("tree capacity must be a power of two")
	ErrLeafIndexMismatch     = errors.New("leaf committed index does not match tree position")
	ErrIllegalTransition     = errors.New("illegal validator state transition")
)

// leafSubtreeDepth is the chunk depth of one serialized leaf (four chunks).
const leafSubtreeDepth = 2

// Capacity returns the smallest power-of-two leaf count that can hold the
// given validator index.
func Capacity(maxIndex uint64) uint64 {
	return merkle.NextPowerOfTwo(maxIndex + 1)
}

// TreeDepth is the merkle depth of a tree with the given capacity.
func TreeDepth(capacity uint64) uint8 {
	return tree.CoverDepth(capacity)
}

// LeafChange is one position rewrite: the old leaf as committed in the
// previous root, and the new leaf derived from verified consensus data.
type LeafChange struct {
	Index uint64    `json:"index"`
	Old   StateLeaf `json:"old"`
	New   StateLeaf `json:"new"`
}

// CheckTransition validates that the change is a legal lifecycle step.
// Legal: unseen→deposited, unseen→exited, deposited→exited, and balance-only
// updates. A validator never leaves the exited stage and never reverts to
// unseen.
func CheckTransition(c LeafChange) error {
	from, to := c.Old.Status, c.New.Status
	if from == to {
		return nil
	}
	switch {
	case from == StatusUnseen && to == StatusDeposited,
		from == StatusUnseen && to == StatusExited,
		from == StatusDeposited && to == StatusExited:
		return nil
	default:
		return fmt.Errorf("%w: validator %d, %s -> %s", ErrIllegalTransition, c.Index, from, to)
	}
}

// checkLeafIndices rejects changes whose committed leaf indices disagree with
// the tree position. Empty leaves commit to index zero by construction and
// are exempt.
func checkLeafIndices(changes []LeafChange) error {
	for _, c := range changes {
		if !c.Old.IsEmpty() && uint64(c.Old.ValidatorIndex) != c.Index {
			return fmt.Errorf("%w: position %d, old leaf index %d", ErrLeafIndexMismatch, c.Index, c.Old.ValidatorIndex)
		}
		if !c.New.IsEmpty() && uint64(c.New.ValidatorIndex) != c.Index {
			return fmt.Errorf("%w: position %d, new leaf index %d", ErrLeafIndexMismatch, c.Index, c.New.ValidatorIndex)
		}
	}
	return nil
}

// UpdateRoot advances the tree root by the given changes. The old leaf values
// are verified against oldRoot through the multiproof; the new root is then
// recomputed from the same proof hashes with the new leaf values, so the
// result commits to exactly the claimed rewrites and nothing else.
//
// A change index at or beyond the old capacity grows the tree to the next
// power of two; the old root is extended with zero subtrees before
// verification. Returns the new root and the (possibly grown) capacity.
func UpdateRoot(oldRoot tree.Root, oldCapacity uint64, changes []LeafChange, proof *merkle.Multiproof) (tree.Root, uint64, error) {
	if oldCapacity == 0 || bits.OnesCount64(oldCapacity) != 1 {
		return tree.Root{}, 0, fmt.Errorf("%w: %d", ErrCapacityNotPowerOfTwo, oldCapacity)
	}
	if len(changes) == 0 {
		return oldRoot, oldCapacity, nil
	}
	if err := checkLeafIndices(changes); err != nil {
		return tree.Root{}, 0, err
	}

	capacity := oldCapacity
	for _, c := range changes {
		if need := Capacity(c.Index); need > capacity {
			capacity = need
		}
	}

	indices := make([]uint64, len(changes))
	oldLeaves := make([]tree.Root, len(changes))
	newLeaves := make([]tree.Root, len(changes))
	for i, c := range changes {
		indices[i] = c.Index
		oldLeaves[i] = c.Old.HashTreeRoot()
		newLeaves[i] = c.New.HashTreeRoot()
	}

	anchor := oldRoot
	if capacity > oldCapacity {
		// Growth area is filled with empty-leaf subtrees. Each leaf is itself
		// a depth-2 chunk subtree of zeros, so the zero-subtree ladder is
		// offset by the leaf depth.
		anchor = merkle.PadToDepth(oldRoot, TreeDepth(oldCapacity)+leafSubtreeDepth, TreeDepth(capacity)+leafSubtreeDepth)
	}
	if err := merkle.VerifyMultiproof(anchor, capacity, indices, oldLeaves, proof); err != nil {
		return tree.Root{}, 0, fmt.Errorf("old leaves not committed in previous root: %w", err)
	}
	newRoot, err := merkle.CalculateRoot(capacity, indices, newLeaves, proof)
	if err != nil {
		return tree.Root{}, 0, err
	}
	return newRoot, capacity, nil
}

// ApplyChanges returns the leaf set after the given rewrites. Positions
// written back to the empty sentinel are dropped from the sparse set.
func ApplyChanges(leaves map[uint64]StateLeaf, changes []LeafChange) map[uint64]StateLeaf {
	next := make(map[uint64]StateLeaf, len(leaves)+len(changes))
	for idx, leaf := range leaves {
		next[idx] = leaf
	}
	for _, c := range changes {
		if c.New.IsEmpty() {
			delete(next, c.Index)
		} else {
			next[c.Index] = c.New
		}
	}
	return next
}

// RootFromLeaves rebuilds the full tree root at the given capacity from a
// sparse leaf set. Used by the witness builder and as the growth-consistency
// reference in tests.
func RootFromLeaves(leaves map[uint64]StateLeaf, capacity uint64) (tree.Root, error) {
	roots, err := LeafRoots(leaves, capacity)
	if err != nil {
		return tree.Root{}, err
	}
	return merkle.BuildRoot(roots), nil
}

// LeafRoots expands a sparse leaf set into the dense leaf-root layer.
func LeafRoots(leaves map[uint64]StateLeaf, capacity uint64) ([]tree.Root, error) {
	if capacity == 0 || bits.OnesCount64(capacity) != 1 {
		return nil, fmt.Errorf("%w: %d", ErrCapacityNotPowerOfTwo, capacity)
	}
	empty := EmptyLeafRoot()
	roots := make([]tree.Root, capacity)
	for i := range roots {
		roots[i] = empty
	}
	for idx, leaf := range leaves {
		if idx >= capacity {
			return nil, fmt.Errorf("%w: index %d, capacity %d", merkle.ErrIndexOutOfRange, idx, capacity)
		}
		roots[idx] = leaf.HashTreeRoot()
	}
	return roots, nil
}
