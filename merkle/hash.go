// Package merkle implements SSZ-style binary merkle tree hashing and
// multiproof generation/verification over 32-byte chunk roots.
package merkle

import (
	"encoding/binary"
	"math/bits"

	"github.com/protolambda/ztyp/tree"
)

// BuildRoot merkleizes the given chunk roots. The leaf layer is padded to the
// next power of two with zero chunks before hashing pairwise upward.
func BuildRoot(leaves []tree.Root) tree.Root {
	if len(leaves) == 0 {
		return tree.Root{}
	}
	hFn := tree.GetHashFn()
	level := make([]tree.Root, NextPowerOfTwo(uint64(len(leaves))))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]tree.Root, len(level)/2)
		for i := range next {
			next[i] = hFn(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

// PadToDepth extends the root of a subtree at fromDepth to toDepth by hashing
// with the zero-subtree roots, as if the tree were right-padded with zero
// chunks up to 1<<toDepth leaves.
func PadToDepth(root tree.Root, fromDepth, toDepth uint8) tree.Root {
	hFn := tree.GetHashFn()
	out := root
	for d := fromDepth; d < toDepth; d++ {
		out = hFn(out, tree.ZeroHashes[d])
	}
	return out
}

// MixInLength computes hash(root, uint256(length)) per the SSZ list scheme.
func MixInLength(root tree.Root, length uint64) tree.Root {
	hFn := tree.GetHashFn()
	var lengthRoot tree.Root
	binary.LittleEndian.PutUint64(lengthRoot[:8], length)
	return hFn(root, lengthRoot)
}

// Uint64Root returns the 32-byte chunk of a uint64 (little-endian).
func Uint64Root(v uint64) tree.Root {
	var root tree.Root
	binary.LittleEndian.PutUint64(root[:8], v)
	return root
}

// NextPowerOfTwo rounds v up to a power of two, treating 0 as 1.
func NextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}

// GeneralizedIndex returns the generalized index of the node at the given
// position within the layer at the given depth below the root.
func GeneralizedIndex(depth uint8, position uint64) uint64 {
	return 1<<depth | position
}

// ConcatIndices navigates from a node identified by parent to the node
// identified by child within the subtree rooted at parent, returning the
// combined generalized index relative to the outer root.
func ConcatIndices(parent, child uint64) uint64 {
	shift := bits.Len64(child) - 1
	return parent<<shift | (child ^ 1<<uint(shift))
}
