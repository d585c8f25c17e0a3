package consensus

import (
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/merkle"
)

// FarFutureEpoch marks epochs that have not been scheduled yet
// (activation_eligibility_epoch and exit_epoch of fresh validators).
const FarFutureEpoch = common.Epoch(^uint64(0))

// Validator is the phase0 validator container. Field order matters: it fixes
// the SSZ merkleization layout used by registry inclusion proofs.
type Validator struct {
	Pubkey                     common.BLSPubkey `json:"pubkey"`
	WithdrawalCredentials      tree.Root        `json:"withdrawal_credentials"`
	EffectiveBalance           common.Gwei      `json:"effective_balance"`
	Slashed                    bool             `json:"slashed"`
	ActivationEligibilityEpoch common.Epoch     `json:"activation_eligibility_epoch"`
	ActivationEpoch            common.Epoch     `json:"activation_epoch"`
	ExitEpoch                  common.Epoch     `json:"exit_epoch"`
	WithdrawableEpoch          common.Epoch     `json:"withdrawable_epoch"`
}

func (v *Validator) FieldLeaves() []tree.Root {
	hFn := tree.GetHashFn()
	var hi, lo tree.Root
	copy(hi[:], v.Pubkey[:32])
	copy(lo[:16], v.Pubkey[32:])
	var slashed tree.Root
	if v.Slashed {
		slashed[0] = 1
	}
	return []tree.Root{
		hFn(hi, lo),
		v.WithdrawalCredentials,
		merkle.Uint64Root(uint64(v.EffectiveBalance)),
		slashed,
		merkle.Uint64Root(uint64(v.ActivationEligibilityEpoch)),
		merkle.Uint64Root(uint64(v.ActivationEpoch)),
		merkle.Uint64Root(uint64(v.ExitEpoch)),
		merkle.Uint64Root(uint64(v.WithdrawableEpoch)),
	}
}

func (v *Validator) HashTreeRoot() tree.Root {
	return RootOf(v)
}

// BeaconBlockHeader is the consensus block header binding a slot to a state
// root. Its hash tree root is the beacon block hash the oracle anchors on.
type BeaconBlockHeader struct {
	Slot          common.Slot           `json:"slot"`
	ProposerIndex common.ValidatorIndex `json:"proposer_index"`
	ParentRoot    tree.Root             `json:"parent_root"`
	StateRoot     tree.Root             `json:"state_root"`
	BodyRoot      tree.Root             `json:"body_root"`
}

func (h *BeaconBlockHeader) FieldLeaves() []tree.Root {
	return []tree.Root{
		merkle.Uint64Root(uint64(h.Slot)),
		merkle.Uint64Root(uint64(h.ProposerIndex)),
		h.ParentRoot,
		h.StateRoot,
		h.BodyRoot,
	}
}

func (h *BeaconBlockHeader) HashTreeRoot() tree.Root {
	return RootOf(h)
}
