package consensus

import (
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/merkle"
)

// Beacon state field positions (Electra/Fulu layout, 38 fields, depth-6
// container tree). The verifier only dereferences a handful of these, but
// the full enumeration pins the layout the state root is computed over.
const (
	StateFieldGenesisTime = iota
	StateFieldGenesisValidatorsRoot
	StateFieldSlot
	StateFieldFork
	StateFieldLatestBlockHeader
	StateFieldBlockRoots
	StateFieldStateRoots
	StateFieldHistoricalRoots
	StateFieldEth1Data
	StateFieldEth1DataVotes
	StateFieldEth1DepositIndex
	StateFieldValidators
	StateFieldBalances
	StateFieldRandaoMixes
	StateFieldSlashings
	StateFieldPreviousEpochParticipation
	StateFieldCurrentEpochParticipation
	StateFieldJustificationBits
	StateFieldPreviousJustifiedCheckpoint
	StateFieldCurrentJustifiedCheckpoint
	StateFieldFinalizedCheckpoint
	StateFieldInactivityScores
	StateFieldCurrentSyncCommittee
	StateFieldNextSyncCommittee
	StateFieldLatestExecutionPayloadHeader
	StateFieldNextWithdrawalIndex
	StateFieldNextWithdrawalValidatorIndex
	StateFieldHistoricalSummaries
	StateFieldDepositRequestsStartIndex
	StateFieldDepositBalanceToConsume
	StateFieldExitBalanceToConsume
	StateFieldEarliestExitEpoch
	StateFieldConsolidationBalanceToConsume
	StateFieldEarliestConsolidationEpoch
	StateFieldPendingDeposits
	StateFieldPendingPartialWithdrawals
	StateFieldPendingConsolidations
	StateFieldProposerLookahead

	StateFieldCount
)

const StateTreeDepth = 6

// StateFieldGeneralizedIndex returns the generalized index of a state field
// chunk relative to the state root.
func StateFieldGeneralizedIndex(field int) uint64 {
	return merkle.GeneralizedIndex(StateTreeDepth, uint64(field))
}

// StateView holds the precomputed hash tree roots of every beacon state
// field. Recomputing the state root from these 38 chunks is cheap, while the
// fields the oracle never inspects stay opaque 32-byte commitments.
type StateView struct {
	GenesisTime                   tree.Root `json:"genesis_time"`
	GenesisValidatorsRoot         tree.Root `json:"genesis_validators_root"`
	Slot                          tree.Root `json:"slot"`
	Fork                          tree.Root `json:"fork"`
	LatestBlockHeader             tree.Root `json:"latest_block_header"`
	BlockRoots                    tree.Root `json:"block_roots"`
	StateRoots                    tree.Root `json:"state_roots"`
	HistoricalRoots               tree.Root `json:"historical_roots"`
	Eth1Data                      tree.Root `json:"eth1_data"`
	Eth1DataVotes                 tree.Root `json:"eth1_data_votes"`
	Eth1DepositIndex              tree.Root `json:"eth1_deposit_index"`
	Validators                    tree.Root `json:"validators"`
	Balances                      tree.Root `json:"balances"`
	RandaoMixes                   tree.Root `json:"randao_mixes"`
	Slashings                     tree.Root `json:"slashings"`
	PreviousEpochParticipation    tree.Root `json:"previous_epoch_participation"`
	CurrentEpochParticipation     tree.Root `json:"current_epoch_participation"`
	JustificationBits             tree.Root `json:"justification_bits"`
	PreviousJustifiedCheckpoint   tree.Root `json:"previous_justified_checkpoint"`
	CurrentJustifiedCheckpoint    tree.Root `json:"current_justified_checkpoint"`
	FinalizedCheckpoint           tree.Root `json:"finalized_checkpoint"`
	InactivityScores              tree.Root `json:"inactivity_scores"`
	CurrentSyncCommittee          tree.Root `json:"current_sync_committee"`
	NextSyncCommittee             tree.Root `json:"next_sync_committee"`
	LatestExecutionPayloadHeader  tree.Root `json:"latest_execution_payload_header"`
	NextWithdrawalIndex           tree.Root `json:"next_withdrawal_index"`
	NextWithdrawalValidatorIndex  tree.Root `json:"next_withdrawal_validator_index"`
	HistoricalSummaries           tree.Root `json:"historical_summaries"`
	DepositRequestsStartIndex     tree.Root `json:"deposit_requests_start_index"`
	DepositBalanceToConsume       tree.Root `json:"deposit_balance_to_consume"`
	ExitBalanceToConsume          tree.Root `json:"exit_balance_to_consume"`
	EarliestExitEpoch             tree.Root `json:"earliest_exit_epoch"`
	ConsolidationBalanceToConsume tree.Root `json:"consolidation_balance_to_consume"`
	EarliestConsolidationEpoch    tree.Root `json:"earliest_consolidation_epoch"`
	PendingDeposits               tree.Root `json:"pending_deposits"`
	PendingPartialWithdrawals     tree.Root `json:"pending_partial_withdrawals"`
	PendingConsolidations         tree.Root `json:"pending_consolidations"`
	ProposerLookahead             tree.Root `json:"proposer_lookahead"`
}

func (s *StateView) FieldLeaves() []tree.Root {
	return []tree.Root{
		s.GenesisTime,
		s.GenesisValidatorsRoot,
		s.Slot,
		s.Fork,
		s.LatestBlockHeader,
		s.BlockRoots,
		s.StateRoots,
		s.HistoricalRoots,
		s.Eth1Data,
		s.Eth1DataVotes,
		s.Eth1DepositIndex,
		s.Validators,
		s.Balances,
		s.RandaoMixes,
		s.Slashings,
		s.PreviousEpochParticipation,
		s.CurrentEpochParticipation,
		s.JustificationBits,
		s.PreviousJustifiedCheckpoint,
		s.CurrentJustifiedCheckpoint,
		s.FinalizedCheckpoint,
		s.InactivityScores,
		s.CurrentSyncCommittee,
		s.NextSyncCommittee,
		s.LatestExecutionPayloadHeader,
		s.NextWithdrawalIndex,
		s.NextWithdrawalValidatorIndex,
		s.HistoricalSummaries,
		s.DepositRequestsStartIndex,
		s.DepositBalanceToConsume,
		s.ExitBalanceToConsume,
		s.EarliestExitEpoch,
		s.ConsolidationBalanceToConsume,
		s.EarliestConsolidationEpoch,
		s.PendingDeposits,
		s.PendingPartialWithdrawals,
		s.PendingConsolidations,
		s.ProposerLookahead,
	}
}

func (s *StateView) HashTreeRoot() tree.Root {
	return RootOf(s)
}

// Execution payload header field positions (Deneb layout, 17 fields, depth-5
// container tree).
const (
	ExecFieldParentHash = iota
	ExecFieldFeeRecipient
	ExecFieldStateRoot
	ExecFieldReceiptsRoot
	ExecFieldLogsBloom
	ExecFieldPrevRandao
	ExecFieldBlockNumber
	ExecFieldGasLimit
	ExecFieldGasUsed
	ExecFieldTimestamp
	ExecFieldExtraData
	ExecFieldBaseFeePerGas
	ExecFieldBlockHash
	ExecFieldTransactionsRoot
	ExecFieldWithdrawalsRoot
	ExecFieldBlobGasUsed
	ExecFieldExcessBlobGas

	ExecFieldCount
)

const ExecTreeDepth = 5

func ExecFieldGeneralizedIndex(field int) uint64 {
	return merkle.GeneralizedIndex(ExecTreeDepth, uint64(field))
}

// ExecutionHeaderView holds the precomputed field roots of the execution
// payload header embedded in the beacon state. The oracle only dereferences
// the execution state root; everything else stays opaque.
type ExecutionHeaderView struct {
	ParentHash       tree.Root `json:"parent_hash"`
	FeeRecipient     tree.Root `json:"fee_recipient"`
	StateRoot        tree.Root `json:"state_root"`
	ReceiptsRoot     tree.Root `json:"receipts_root"`
	LogsBloom        tree.Root `json:"logs_bloom"`
	PrevRandao       tree.Root `json:"prev_randao"`
	BlockNumber      tree.Root `json:"block_number"`
	GasLimit         tree.Root `json:"gas_limit"`
	GasUsed          tree.Root `json:"gas_used"`
	Timestamp        tree.Root `json:"timestamp"`
	ExtraData        tree.Root `json:"extra_data"`
	BaseFeePerGas    tree.Root `json:"base_fee_per_gas"`
	BlockHash        tree.Root `json:"block_hash"`
	TransactionsRoot tree.Root `json:"transactions_root"`
	WithdrawalsRoot  tree.Root `json:"withdrawals_root"`
	BlobGasUsed      tree.Root `json:"blob_gas_used"`
	ExcessBlobGas    tree.Root `json:"excess_blob_gas"`
}

func (e *ExecutionHeaderView) FieldLeaves() []tree.Root {
	return []tree.Root{
		e.ParentHash,
		e.FeeRecipient,
		e.StateRoot,
		e.ReceiptsRoot,
		e.LogsBloom,
		e.PrevRandao,
		e.BlockNumber,
		e.GasLimit,
		e.GasUsed,
		e.Timestamp,
		e.ExtraData,
		e.BaseFeePerGas,
		e.BlockHash,
		e.TransactionsRoot,
		e.WithdrawalsRoot,
		e.BlobGasUsed,
		e.ExcessBlobGas,
	}
}

func (e *ExecutionHeaderView) HashTreeRoot() tree.Root {
	return RootOf(e)
}
