package verifier

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/merkle"
	"github.com/kysee/zk-accounting/types"
	"github.com/kysee/zk-accounting/witness"
)

var ErrAccountMissing = errors.New("vault account not present in state trie")

// checkWithdrawalVault binds the execution state root into the beacon state
// and proves the vault's wei balance under it.
func (v *Verifier) checkWithdrawalVault(in *witness.Input) (*uint256.Int, error) {
	err := merkle.VerifyMultiproof(
		in.State.LatestExecutionPayloadHeader,
		consensus.ExecFieldCount,
		[]uint64{consensus.ExecFieldStateRoot},
		[]tree.Root{in.ExecutionHeader.StateRoot},
		&in.ExecutionHeader.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: execution state root inclusion: %w", ErrProofVerificationFailed, err)
	}

	balance, err := VerifyAccountBalance(in.ExecutionHeader.StateRoot, in.Vault.Address, in.Vault.AccountProof)
	if err != nil {
		return nil, fmt.Errorf("%w: vault account: %w", ErrProofVerificationFailed, err)
	}
	if !balance.Eq(in.Vault.Balance) {
		return nil, fmt.Errorf("%w: claimed vault balance %s, proven %s",
			ErrProofVerificationFailed, in.Vault.Balance, balance)
	}
	return balance, nil
}

// VerifyAccountBalance verifies an eth_getProof-style account proof against
// an execution state root and returns the account's wei balance. The state
// trie is keyed by keccak256(address); the leaf is the RLP state account.
func VerifyAccountBalance(stateRoot tree.Root, address ethcommon.Address, proofNodes []types.HexBytes) (*uint256.Int, error) {
	proofDb := memorydb.New()
	for _, node := range proofNodes {
		if err := proofDb.Put(crypto.Keccak256(node), node); err != nil {
			return nil, fmt.Errorf("load proof node: %w", err)
		}
	}

	key := crypto.Keccak256(address.Bytes())
	value, err := trie.VerifyProof(ethcommon.BytesToHash(stateRoot[:]), key, proofDb)
	if err != nil {
		return nil, fmt.Errorf("verify account proof: %w", err)
	}
	if len(value) == 0 {
		return nil, ErrAccountMissing
	}

	var account gethtypes.StateAccount
	if err := rlp.DecodeBytes(value, &account); err != nil {
		return nil, fmt.Errorf("decode state account: %w", err)
	}
	return account.Balance, nil
}
