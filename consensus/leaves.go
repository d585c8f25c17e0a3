// Package consensus models the subset of the beacon chain state the oracle
// reasons about: typed containers with explicit SSZ field leaves, registry
// list hashing, and the snapshot format produced by state readers.
package consensus

import (
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/merkle"
)

// LeafSource exposes the ordered SSZ field chunks of a container. Containers
// enumerate their fields explicitly so that field indices used in proofs are
// auditable constants rather than reflection artifacts.
type LeafSource interface {
	FieldLeaves() []tree.Root
}

// RootOf merkleizes a container's field leaves into its hash tree root.
func RootOf(src LeafSource) tree.Root {
	return merkle.BuildRoot(src.FieldLeaves())
}
