package verifier

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/zrnt/eth2/configs"
	"github.com/protolambda/ztyp/tree"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/merkle"
	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/report"
	"github.com/kysee/zk-accounting/types"
	"github.com/kysee/zk-accounting/witness"
)

var (
	poolCreds  = tree.Root{0x01, 0xee}
	otherCreds = tree.Root{0x01, 0x99}
	vaultAddr  = ethcommon.HexToAddress("0xb9d7934878b5fb9610b3fe8a5e441e8fad7e293f")
)

func newVerifier() *Verifier {
	return New(configs.Mainnet, zerolog.Nop())
}

// vaultTrie builds a one-account execution state trie and the eth_getProof
// style node list for it.
func vaultTrie(t *testing.T, balance *uint256.Int) (tree.Root, []types.HexBytes) {
	t.Helper()
	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))

	account := gethtypes.StateAccount{
		Nonce:    1,
		Balance:  balance,
		Root:     gethtypes.EmptyRootHash,
		CodeHash: gethtypes.EmptyCodeHash.Bytes(),
	}
	enc, err := rlp.EncodeToBytes(&account)
	require.NoError(t, err)

	key := crypto.Keccak256(vaultAddr.Bytes())
	require.NoError(t, tr.Update(key, enc))
	root := tr.Hash()

	proofDb := memorydb.New()
	require.NoError(t, tr.Prove(key, proofDb))

	var nodes []types.HexBytes
	it := proofDb.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		nodes = append(nodes, append(types.HexBytes{}, it.Value()...))
	}

	var out tree.Root
	copy(out[:], root[:])
	return out, nodes
}

type fixture struct {
	snap      *consensus.Snapshot
	params    witness.BuildParams
	oldLeaves map[uint64]pool.StateLeaf
}

// newFixture wires the reference scenario: four registry validators, pool
// credentials on 0 and 2, balances 32/32/31/32 (x1e9). Validator 0 is already
// tracked (deposited, 32e9); validator 2 newly reaches deposit eligibility.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	slot := common.Slot(6_400_032) // epoch 200_001

	mk := func(creds tree.Root, eligibility, exit common.Epoch) consensus.Validator {
		return consensus.Validator{
			WithdrawalCredentials:      creds,
			EffectiveBalance:           32_000_000_000,
			ActivationEligibilityEpoch: eligibility,
			ActivationEpoch:            eligibility + 1,
			ExitEpoch:                  exit,
			WithdrawableEpoch:          consensus.FarFutureEpoch,
		}
	}
	snap := &consensus.Snapshot{
		Slot: slot,
		Validators: []consensus.Validator{
			mk(poolCreds, 100, consensus.FarFutureEpoch),
			mk(otherCreds, 100, consensus.FarFutureEpoch),
			mk(poolCreds, 200_000, consensus.FarFutureEpoch),
			mk(otherCreds, 100, consensus.FarFutureEpoch),
		},
		Balances: []common.Gwei{32_000_000_000, 32_000_000_000, 31_000_000_000, 32_000_000_000},
	}
	snap.BlockHeader = consensus.BeaconBlockHeader{
		Slot:          slot,
		ProposerIndex: 42,
		ParentRoot:    tree.Root{0x11},
		BodyRoot:      tree.Root{0x22},
	}
	snap.FieldRoots.GenesisValidatorsRoot = tree.Root{0x44}

	vaultBalance := uint256.NewInt(0).Mul(uint256.NewInt(15), uint256.NewInt(1e18))
	execRoot, proofNodes := vaultTrie(t, vaultBalance)
	snap.ExecutionHeader.StateRoot = execRoot

	oldLeaves := map[uint64]pool.StateLeaf{
		0: {ValidatorIndex: 0, Status: pool.StatusDeposited, Balance: 32_000_000_000},
	}
	oldRoot, err := pool.RootFromLeaves(oldLeaves, 1)
	require.NoError(t, err)

	params := witness.BuildParams{
		Spec:                  configs.Mainnet,
		WithdrawalCredentials: poolCreds,
		ReferenceSlot:         6_400_064,
		OldState:              pool.ValidatorState{Slot: 6_400_000, MerkleRoot: oldRoot},
		OldCapacity:           1,
		OldLeaves:             oldLeaves,
		OldAggregates:         report.Aggregates{Deposited: 1, CLBalance: 32_000_000_000},
		Vault: witness.VaultData{
			Address:      vaultAddr,
			Balance:      vaultBalance,
			AccountProof: proofNodes,
		},
	}
	return &fixture{snap: snap, params: params, oldLeaves: oldLeaves}
}

func (f *fixture) input(t *testing.T) *witness.Input {
	t.Helper()
	in, _, err := witness.Build(f.params, f.snap)
	require.NoError(t, err)
	return in
}

func TestVerifyAcceptsReferenceScenario(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	rep, md, err := newVerifier().Verify(in)
	require.NoError(t, err)

	require.Equal(t, common.Slot(6_400_064), rep.ReferenceSlot)
	require.Equal(t, uint64(2), rep.Deposited)
	require.Equal(t, uint64(0), rep.Exited)
	require.Equal(t, common.Gwei(63_000_000_000), rep.CLBalance)
	require.True(t, rep.WithdrawalVaultBalance.Eq(f.params.Vault.Balance))

	require.Equal(t, common.Slot(6_400_032), md.BcSlot)
	require.Equal(t, common.Epoch(200_001), md.Epoch)
	require.Equal(t, in.BeaconBlockHash, md.BeaconBlockHash)
	require.Equal(t, f.params.OldState, md.OldState)
	require.Equal(t, in.NewState, md.NewState)
	require.Equal(t, vaultAddr, md.WithdrawalVault.Address)

	// the accepted new root must equal a full rebuild at the grown capacity
	rebuilt, err := pool.RootFromLeaves(map[uint64]pool.StateLeaf{
		0: f.oldLeaves[0],
		2: {ValidatorIndex: 2, Status: pool.StatusDeposited, Balance: 31_000_000_000},
	}, 4)
	require.NoError(t, err)
	require.Equal(t, rebuilt, md.NewState.MerkleRoot)
}

func TestVerifyEmptyDelta(t *testing.T) {
	f := newFixture(t)
	// drop validator 2's eligibility into the future: nothing changes
	f.snap.Validators[2].ActivationEligibilityEpoch = 300_000
	in := f.input(t)

	rep, md, err := newVerifier().Verify(in)
	require.NoError(t, err)
	require.Equal(t, f.params.OldAggregates, rep.Aggregates)
	require.Equal(t, f.params.OldState.MerkleRoot, md.NewState.MerkleRoot)
	require.Equal(t, f.snap.Slot, md.NewState.Slot)
}

func TestVerifyIgnoresOutOfScopeChange(t *testing.T) {
	f := newFixture(t)
	// keep validator 2 out of the delta so only the out-of-scope entry remains
	f.snap.Validators[2].ActivationEligibilityEpoch = 300_000
	in := f.input(t)

	// splice in a structurally valid change for out-of-scope validator 1
	in.Changes = []witness.Change{{
		Index:     1,
		Validator: f.snap.Validators[1],
		OldLeaf:   pool.StateLeaf{},
	}}
	proof, err := merkle.Prove(consensus.ValidatorRoots(f.snap.Validators), []uint64{1})
	require.NoError(t, err)
	in.ValidatorsProof = *proof

	in.BalanceChunks = []witness.BalanceChunk{{
		ChunkIndex: 0,
		Balances:   [4]common.Gwei{32_000_000_000, 32_000_000_000, 31_000_000_000, 32_000_000_000},
	}}
	balProof, err := merkle.Prove(consensus.BalanceChunks(f.snap.Balances), []uint64{0})
	require.NoError(t, err)
	in.BalancesProof = *balProof

	// tree proof at capacity 2 (growth to cover index 1)
	oldRoots, err := pool.LeafRoots(f.oldLeaves, 2)
	require.NoError(t, err)
	treeProof, err := merkle.Prove(oldRoots, []uint64{1})
	require.NoError(t, err)
	in.TreeProof = *treeProof

	grown, err := pool.RootFromLeaves(f.oldLeaves, 2)
	require.NoError(t, err)
	in.NewState = pool.ValidatorState{Slot: in.BcSlot, MerkleRoot: grown}

	rep, _, err := newVerifier().Verify(in)
	require.NoError(t, err)
	// valid inclusion proof, but no counter may move
	require.Equal(t, f.params.OldAggregates, rep.Aggregates)
}

func TestVerifyRejectsOutOfScopeLeafWrite(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	// validator 1 does not carry pool credentials; claiming a committed leaf
	// for it must be refused regardless of proofs
	in.Changes = append(in.Changes[:0:0], in.Changes...)
	in.Changes[0] = witness.Change{
		Index:     1,
		Validator: f.snap.Validators[1],
		OldLeaf:   pool.StateLeaf{ValidatorIndex: 1, Status: pool.StatusDeposited, Balance: 1},
	}
	proof, err := merkle.Prove(consensus.ValidatorRoots(f.snap.Validators), []uint64{1})
	require.NoError(t, err)
	in.ValidatorsProof = *proof

	_, _, err = newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestVerifyRejectsTamperedBalanceChunk(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.BalanceChunks[0].Balances[2] = 999_000_000_000
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyRejectsTamperedValidator(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.Changes[0].Validator.ExitEpoch = 1
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyRejectsForgedOldLeaf(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	// a fabricated old leaf never hashed into the committed old root
	in.Changes[0].OldLeaf = pool.StateLeaf{ValidatorIndex: 2, Status: pool.StatusDeposited, Balance: 1}
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyRejectsStatusRegression(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	// exited is terminal: a claimed exited->deposited rewrite is refused
	// before the tree update is even attempted
	in.Changes[0].OldLeaf = pool.StateLeaf{ValidatorIndex: 2, Status: pool.StatusExited, Balance: 0}
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestVerifyRejectsWrongClaimedNewRoot(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.NewState.MerkleRoot[0] ^= 0xff
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyRejectsBlockHashMismatch(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.BeaconBlockHash[0] ^= 0xff
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyRejectsStateMismatch(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.State.RandaoMixes[0] ^= 0xff
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyRejectsNonAdvancingOldState(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.OldState.Slot = in.BcSlot
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrContinuityViolation)
}

func TestVerifyRejectsUnsortedChanges(t *testing.T) {
	f := newFixture(t)
	// track validator 0 with a moved balance so the delta has two entries
	f.snap.Balances[0] = 33_000_000_000
	in := f.input(t)
	require.Len(t, in.Changes, 2)

	in.Changes[0], in.Changes[1] = in.Changes[1], in.Changes[0]
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrInputMalformed)
}

func TestVerifyRejectsNonPowerOfTwoCapacity(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.OldTreeCapacity = 3
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrInputMalformed)
}

func TestVerifyRejectsChangeBeyondRegistry(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.TotalValidators = 2
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrInputMalformed)
}

func TestVerifyRejectsWrongVaultClaim(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.Vault.Balance = uint256.NewInt(1)
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyRejectsForeignVaultAccount(t *testing.T) {
	f := newFixture(t)
	in := f.input(t)

	in.Vault.Address = ethcommon.HexToAddress("0x0000000000000000000000000000000000000001")
	_, _, err := newVerifier().Verify(in)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}

func TestVerifyContinuityChain(t *testing.T) {
	// genesis -> report 1 -> report 2: each accepted new state is the next
	// report's old state, all the way from the empty root.
	f := newFixture(t)
	v := newVerifier()

	genesis := pool.GenesisState()
	f.params.OldState = genesis
	f.params.OldCapacity = pool.GenesisCapacity
	f.params.OldLeaves = nil
	f.params.OldAggregates = report.Aggregates{}

	in1, changes1, err := witness.Build(f.params, f.snap)
	require.NoError(t, err)
	rep1, md1, err := v.Verify(in1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rep1.Deposited)
	require.Equal(t, common.Gwei(63_000_000_000), rep1.CLBalance)

	// advance: validator 2 exits by the next snapshot
	leaves1 := pool.ApplyChanges(nil, changes1)
	f.snap.Slot = 6_400_352
	f.snap.BlockHeader.Slot = 6_400_352
	f.snap.Validators[2].ExitEpoch = 200_010
	f.params.ReferenceSlot = 6_400_352
	f.params.OldState = md1.NewState
	f.params.OldCapacity = 4
	f.params.OldLeaves = leaves1
	f.params.OldAggregates = rep1.Aggregates

	in2, _, err := witness.Build(f.params, f.snap)
	require.NoError(t, err)
	rep2, md2, err := v.Verify(in2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rep2.Deposited)
	require.Equal(t, uint64(1), rep2.Exited)
	require.Equal(t, md1.NewState, md2.OldState)

	// forged ancestry: an old state that never chained from genesis
	in2.OldState.MerkleRoot[5] ^= 0x01
	_, _, err = v.Verify(in2)
	require.ErrorIs(t, err, ErrProofVerificationFailed)
}
