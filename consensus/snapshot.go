package consensus

import (
	"fmt"

	"github.com/protolambda/zrnt/eth2/beacon/common"

	"github.com/kysee/zk-accounting/merkle"
)

// Snapshot is the self-describing beacon state extract a reader hands to the
// witness builder: the registry in full, the execution header field roots,
// the block header at the snapshot slot, and the precomputed roots of every
// state field the oracle does not inspect.
//
// FieldRoots.Slot, .Validators, .Balances and .LatestExecutionPayloadHeader
// are derived from the snapshot content and overwritten by View; whatever a
// snapshot file carries there is ignored.
type Snapshot struct {
	Slot            common.Slot         `json:"slot"`
	BlockHeader     BeaconBlockHeader   `json:"beacon_block_header"`
	Validators      []Validator         `json:"validators"`
	Balances        []common.Gwei       `json:"balances"`
	ExecutionHeader ExecutionHeaderView `json:"latest_execution_payload_header"`
	FieldRoots      StateView           `json:"state_field_roots"`
}

// View assembles the complete state view, recomputing the field roots that
// depend on snapshot content.
func (s *Snapshot) View(spec *common.Spec) *StateView {
	view := s.FieldRoots
	view.Slot = merkle.Uint64Root(uint64(s.Slot))
	view.Validators = ValidatorsRoot(spec, s.Validators)
	view.Balances = BalancesRoot(spec, s.Balances)
	view.LatestExecutionPayloadHeader = s.ExecutionHeader.HashTreeRoot()
	return &view
}

// Check validates basic shape: registry and balances must pair up, and the
// header must sit at the snapshot slot.
func (s *Snapshot) Check() error {
	if len(s.Validators) != len(s.Balances) {
		return fmt.Errorf("snapshot has %d validators but %d balances", len(s.Validators), len(s.Balances))
	}
	if s.BlockHeader.Slot != s.Slot {
		return fmt.Errorf("snapshot block header slot %d does not match state slot %d", s.BlockHeader.Slot, s.Slot)
	}
	return nil
}
