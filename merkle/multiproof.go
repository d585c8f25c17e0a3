package merkle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/protolambda/ztyp/tree"
)

var (
	ErrLengthMismatch  = errors.New("indices and leaves length mismatch")
	ErrNoLeaves        = errors.New("no leaves to prove")
	ErrDuplicateIndex  = errors.New("duplicate leaf index")
	ErrIndexOutOfRange = errors.New("leaf index out of range")
	ErrProofUnderrun   = errors.New("not enough proof hashes")
	ErrProofOverrun    = errors.New("unconsumed proof hashes")
	ErrRootMismatch    = errors.New("root mismatch")
)

// Multiproof carries the sibling hashes needed to reconstruct a tree root
// from a subset of its leaves. Hashes are ordered level by level from the
// leaf layer toward the root, ascending node position within each level.
// Both the prover and the verifier walk levels in that order, so the proof
// needs no per-hash position information.
type Multiproof struct {
	Hashes []tree.Root `json:"hashes"`
}

type proofNode struct {
	pos  uint64
	hash tree.Root
}

// checkIndices validates and returns a sorted copy of the claimed leaf
// positions against the padded tree width.
func checkIndices(indices []uint64, width uint64) ([]uint64, error) {
	sorted := make([]uint64, len(indices))
	copy(sorted, indices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, idx := range sorted {
		if idx >= width {
			return nil, fmt.Errorf("%w: index %d, width %d", ErrIndexOutOfRange, idx, width)
		}
		if i > 0 && sorted[i-1] == idx {
			return nil, fmt.Errorf("%w: index %d", ErrDuplicateIndex, idx)
		}
	}
	return sorted, nil
}

// Prove generates a multiproof for the leaves at the given positions. The
// leaf layer is padded to the next power of two with zero chunks, matching
// BuildRoot.
func Prove(leaves []tree.Root, indices []uint64) (*Multiproof, error) {
	if len(indices) == 0 {
		return nil, ErrNoLeaves
	}
	width := NextPowerOfTwo(uint64(len(leaves)))
	sorted, err := checkIndices(indices, width)
	if err != nil {
		return nil, err
	}

	hFn := tree.GetHashFn()
	level := make([]tree.Root, width)
	copy(level, leaves)
	known := sorted

	var hashes []tree.Root
	for len(level) > 1 {
		for i := 0; i < len(known); {
			pos := known[i]
			if i+1 < len(known) && known[i+1] == pos^1 {
				i += 2
				continue
			}
			hashes = append(hashes, level[pos^1])
			i++
		}
		next := make([]tree.Root, len(level)/2)
		for i := range next {
			next[i] = hFn(level[2*i], level[2*i+1])
		}
		level = next
		parents := known[:0:0]
		for _, pos := range known {
			p := pos >> 1
			if len(parents) == 0 || parents[len(parents)-1] != p {
				parents = append(parents, p)
			}
		}
		known = parents
	}
	return &Multiproof{Hashes: hashes}, nil
}

// CalculateRoot reconstructs the tree root from the claimed leaves and the
// proof's sibling hashes. leafCount is the unpadded leaf-layer size; indices
// are positions within the padded layer. Every proof hash must be consumed.
func CalculateRoot(leafCount uint64, indices []uint64, leaves []tree.Root, proof *Multiproof) (tree.Root, error) {
	if len(indices) != len(leaves) {
		return tree.Root{}, fmt.Errorf("%w: %d indices, %d leaves", ErrLengthMismatch, len(indices), len(leaves))
	}
	if len(indices) == 0 {
		return tree.Root{}, ErrNoLeaves
	}
	width := NextPowerOfTwo(leafCount)
	if _, err := checkIndices(indices, width); err != nil {
		return tree.Root{}, err
	}

	level := make([]proofNode, len(indices))
	for i := range indices {
		level[i] = proofNode{pos: indices[i], hash: leaves[i]}
	}
	sort.Slice(level, func(i, j int) bool { return level[i].pos < level[j].pos })

	hFn := tree.GetHashFn()
	consumed := 0
	for width > 1 {
		next := level[:0:0]
		for i := 0; i < len(level); {
			n := level[i]
			var left, right tree.Root
			if i+1 < len(level) && level[i+1].pos == n.pos^1 {
				left, right = n.hash, level[i+1].hash
				i += 2
			} else {
				if consumed >= len(proof.Hashes) {
					return tree.Root{}, ErrProofUnderrun
				}
				sibling := proof.Hashes[consumed]
				consumed++
				if n.pos&1 == 0 {
					left, right = n.hash, sibling
				} else {
					left, right = sibling, n.hash
				}
				i++
			}
			next = append(next, proofNode{pos: n.pos >> 1, hash: hFn(left, right)})
		}
		level = next
		width >>= 1
	}
	if consumed != len(proof.Hashes) {
		return tree.Root{}, fmt.Errorf("%w: %d of %d used", ErrProofOverrun, consumed, len(proof.Hashes))
	}
	return level[0].hash, nil
}

// VerifyMultiproof checks that the claimed leaves at the claimed positions
// reconstruct the expected root.
func VerifyMultiproof(root tree.Root, leafCount uint64, indices []uint64, leaves []tree.Root, proof *Multiproof) error {
	got, err := CalculateRoot(leafCount, indices, leaves, proof)
	if err != nil {
		return err
	}
	if got != root {
		return fmt.Errorf("%w: computed %s, expected %s", ErrRootMismatch, got, root)
	}
	return nil
}

// CalculateListRoot reconstructs an SSZ list root from a chunk-level
// multiproof: the chunk subtree is rebuilt from the claimed chunks, extended
// to limitDepth with zero subtrees, and mixed with the element count.
func CalculateListRoot(chunkCount uint64, limitDepth uint8, length uint64, indices []uint64, leaves []tree.Root, proof *Multiproof) (tree.Root, error) {
	root, err := CalculateRoot(chunkCount, indices, leaves, proof)
	if err != nil {
		return tree.Root{}, err
	}
	root = PadToDepth(root, tree.CoverDepth(chunkCount), limitDepth)
	return MixInLength(root, length), nil
}

// VerifyListMultiproof checks claimed list chunks against an SSZ list root.
func VerifyListMultiproof(root tree.Root, chunkCount uint64, limitDepth uint8, length uint64, indices []uint64, leaves []tree.Root, proof *Multiproof) error {
	got, err := CalculateListRoot(chunkCount, limitDepth, length, indices, leaves, proof)
	if err != nil {
		return err
	}
	if got != root {
		return fmt.Errorf("%w: computed %s, expected %s", ErrRootMismatch, got, root)
	}
	return nil
}

// ListRoot computes the full SSZ list root over chunk roots with the given
// limit depth and element count.
func ListRoot(chunks []tree.Root, limitDepth uint8, length uint64) tree.Root {
	root := tree.ZeroHashes[0]
	fromDepth := uint8(0)
	if len(chunks) > 0 {
		root = BuildRoot(chunks)
		fromDepth = tree.CoverDepth(uint64(len(chunks)))
	}
	return MixInLength(PadToDepth(root, fromDepth, limitDepth), length)
}
