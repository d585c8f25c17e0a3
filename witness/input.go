// Package witness prepares and carries the program input: the validator
// delta computed off-circuit, every multiproof the verifier replays, and the
// execution-layer vault proof. The JSON form is the wire format between the
// oracle host and the proving backend.
package witness

import (
	"encoding/json"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/merkle"
	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/report"
	"github.com/kysee/zk-accounting/types"
)

// Change is one delta entry: the registry validator at Index, and the leaf
// value the previous tree root commits to at that position. The new leaf is
// never carried; the verifier derives it from the proven validator and
// balance.
type Change struct {
	Index     common.ValidatorIndex `json:"validator_index"`
	Validator consensus.Validator   `json:"validator"`
	OldLeaf   pool.StateLeaf        `json:"old_leaf"`
}

// BalanceChunk is one packed chunk of the balances list covering indices
// [4*ChunkIndex, 4*ChunkIndex+4).
type BalanceChunk struct {
	ChunkIndex uint64                                  `json:"chunk_index"`
	Balances   [consensus.BalancesPerChunk]common.Gwei `json:"balances"`
}

// Balance returns the balance of the given validator index, which must fall
// inside this chunk.
func (c BalanceChunk) Balance(index uint64) common.Gwei {
	return c.Balances[index%consensus.BalancesPerChunk]
}

// ExecutionHeaderData carries the execution state root and its inclusion
// proof against the execution payload header root embedded in the state.
type ExecutionHeaderData struct {
	StateRoot tree.Root         `json:"state_root"`
	Proof     merkle.Multiproof `json:"inclusion_proof"`
}

// VaultData is the withdrawal vault account claim: the claimed wei balance
// and the MPT account proof anchoring it to the execution state root.
type VaultData struct {
	Address      ethcommon.Address `json:"vault_address"`
	Balance      *uint256.Int      `json:"balance"`
	AccountProof []types.HexBytes  `json:"account_proof"`
}

// Input is the complete program input. Everything in here is untrusted until
// the verifier has walked its check sequence.
type Input struct {
	ReferenceSlot   common.Slot `json:"reference_slot"`
	BcSlot          common.Slot `json:"bc_slot"`
	BeaconBlockHash tree.Root   `json:"beacon_block_hash"`

	BlockHeader     consensus.BeaconBlockHeader `json:"beacon_block_header"`
	State           consensus.StateView         `json:"beacon_state"`
	TotalValidators uint64                      `json:"total_validators"`

	WithdrawalCredentials tree.Root `json:"withdrawal_credentials"`

	OldAggregates   report.Aggregates   `json:"old_aggregates"`
	OldState        pool.ValidatorState `json:"old_state"`
	OldTreeCapacity uint64              `json:"old_tree_capacity"`
	NewState        pool.ValidatorState `json:"new_state"`

	Changes       []Change       `json:"changes"`
	BalanceChunks []BalanceChunk `json:"balance_chunks"`

	ValidatorsProof merkle.Multiproof `json:"validators_proof"`
	BalancesProof   merkle.Multiproof `json:"balances_proof"`
	TreeProof       merkle.Multiproof `json:"tree_proof"`

	ExecutionHeader ExecutionHeaderData `json:"execution_header"`
	Vault           VaultData           `json:"withdrawal_vault"`
}

// Encode serializes the input to its JSON wire form.
func (in *Input) Encode() ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode program input: %w", err)
	}
	return data, nil
}

// DecodeInput parses a serialized program input. Truncated or otherwise
// malformed data fails here, before any verification logic runs.
func DecodeInput(data []byte) (*Input, error) {
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode program input: %w", err)
	}
	return &in, nil
}

// ChunkFor locates the balance chunk covering the given validator index.
func (in *Input) ChunkFor(index uint64) (BalanceChunk, bool) {
	want := index / consensus.BalancesPerChunk
	for _, c := range in.BalanceChunks {
		if c.ChunkIndex == want {
			return c, true
		}
	}
	return BalanceChunk{}, false
}
