// Package publicvalues encodes the report/metadata pair committed by the
// proof into the fixed ABI layout the protocol contract decodes.
//
// The layout is a static two-tuple: report (referenceSlot, depositedValidators,
// exitedValidators, clBalanceGwei, withdrawalVaultBalanceWei — all uint256)
// and metadata (bcSlot, epoch, withdrawalCredentials, beaconBlockHash,
// oldState(slot, merkleRoot), newState(slot, merkleRoot),
// withdrawalVaultData(balanceWei, vaultAddress)). Every component is one
// 32-byte word; 15 words, 480 bytes, no dynamic section.
package publicvalues

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/report"
)

// EncodedLength is the exact byte size of the encoded public values.
const EncodedLength = 480

var (
	ErrBadLength   = errors.New("public values must be exactly 480 bytes")
	ErrValueRange  = errors.New("public value out of range")
	ErrNilArgument = errors.New("nil report or metadata")
)

type reportSol struct {
	ReferenceSlot             *big.Int `abi:"referenceSlot"`
	DepositedValidators       *big.Int `abi:"depositedValidators"`
	ExitedValidators          *big.Int `abi:"exitedValidators"`
	ClBalanceGwei             *big.Int `abi:"clBalanceGwei"`
	WithdrawalVaultBalanceWei *big.Int `abi:"withdrawalVaultBalanceWei"`
}

type stateSol struct {
	Slot       *big.Int `abi:"slot"`
	MerkleRoot [32]byte `abi:"merkleRoot"`
}

type vaultSol struct {
	BalanceWei   *big.Int          `abi:"balanceWei"`
	VaultAddress ethcommon.Address `abi:"vaultAddress"`
}

type metadataSol struct {
	BcSlot                *big.Int `abi:"bcSlot"`
	Epoch                 *big.Int `abi:"epoch"`
	WithdrawalCredentials [32]byte `abi:"withdrawalCredentials"`
	BeaconBlockHash       [32]byte `abi:"beaconBlockHash"`
	OldState              stateSol `abi:"oldState"`
	NewState              stateSol `abi:"newState"`
	WithdrawalVaultData   vaultSol `abi:"withdrawalVaultData"`
}

var publicValuesArgs = mustArguments()

func mustArguments() abi.Arguments {
	state := []abi.ArgumentMarshaling{
		{Name: "slot", Type: "uint256"},
		{Name: "merkleRoot", Type: "bytes32"},
	}
	reportType, err := abi.NewType("tuple", "Report", []abi.ArgumentMarshaling{
		{Name: "referenceSlot", Type: "uint256"},
		{Name: "depositedValidators", Type: "uint256"},
		{Name: "exitedValidators", Type: "uint256"},
		{Name: "clBalanceGwei", Type: "uint256"},
		{Name: "withdrawalVaultBalanceWei", Type: "uint256"},
	})
	if err != nil {
		panic(err)
	}
	metadataType, err := abi.NewType("tuple", "ReportMetadata", []abi.ArgumentMarshaling{
		{Name: "bcSlot", Type: "uint256"},
		{Name: "epoch", Type: "uint256"},
		{Name: "withdrawalCredentials", Type: "bytes32"},
		{Name: "beaconBlockHash", Type: "bytes32"},
		{Name: "oldState", Type: "tuple", InternalType: "ValidatorState", Components: state},
		{Name: "newState", Type: "tuple", InternalType: "ValidatorState", Components: state},
		{Name: "withdrawalVaultData", Type: "tuple", InternalType: "WithdrawalVaultData", Components: []abi.ArgumentMarshaling{
			{Name: "balanceWei", Type: "uint256"},
			{Name: "vaultAddress", Type: "address"},
		}},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "report", Type: reportType},
		{Name: "metadata", Type: metadataType},
	}
}

// Encode packs the report/metadata pair into the public-values blob.
func Encode(rep *report.Report, md *report.Metadata) ([]byte, error) {
	if rep == nil || md == nil {
		return nil, ErrNilArgument
	}
	vaultBalance := new(big.Int)
	if rep.WithdrawalVaultBalance != nil {
		vaultBalance = rep.WithdrawalVaultBalance.ToBig()
	}
	mdVaultBalance := new(big.Int)
	if md.WithdrawalVault.Balance != nil {
		mdVaultBalance = md.WithdrawalVault.Balance.ToBig()
	}
	r := reportSol{
		ReferenceSlot:             new(big.Int).SetUint64(uint64(rep.ReferenceSlot)),
		DepositedValidators:       new(big.Int).SetUint64(rep.Deposited),
		ExitedValidators:          new(big.Int).SetUint64(rep.Exited),
		ClBalanceGwei:             new(big.Int).SetUint64(uint64(rep.CLBalance)),
		WithdrawalVaultBalanceWei: vaultBalance,
	}
	m := metadataSol{
		BcSlot:                new(big.Int).SetUint64(uint64(md.BcSlot)),
		Epoch:                 new(big.Int).SetUint64(uint64(md.Epoch)),
		WithdrawalCredentials: [32]byte(md.WithdrawalCredentials),
		BeaconBlockHash:       [32]byte(md.BeaconBlockHash),
		OldState: stateSol{
			Slot:       new(big.Int).SetUint64(uint64(md.OldState.Slot)),
			MerkleRoot: [32]byte(md.OldState.MerkleRoot),
		},
		NewState: stateSol{
			Slot:       new(big.Int).SetUint64(uint64(md.NewState.Slot)),
			MerkleRoot: [32]byte(md.NewState.MerkleRoot),
		},
		WithdrawalVaultData: vaultSol{
			BalanceWei:   mdVaultBalance,
			VaultAddress: md.WithdrawalVault.Address,
		},
	}
	data, err := publicValuesArgs.Pack(r, m)
	if err != nil {
		return nil, fmt.Errorf("pack public values: %w", err)
	}
	if len(data) != EncodedLength {
		return nil, fmt.Errorf("%w: packed %d bytes", ErrBadLength, len(data))
	}
	return data, nil
}

// Decode unpacks a public-values blob. Truncated or padded input is rejected
// before any field is interpreted; uint256 words carrying uint64-typed values
// must fit.
func Decode(data []byte) (*report.Report, *report.Metadata, error) {
	if len(data) != EncodedLength {
		return nil, nil, fmt.Errorf("%w: got %d", ErrBadLength, len(data))
	}
	vals, err := publicValuesArgs.Unpack(data)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack public values: %w", err)
	}
	r := *abi.ConvertType(vals[0], new(reportSol)).(*reportSol)
	m := *abi.ConvertType(vals[1], new(metadataSol)).(*metadataSol)

	refSlot, err := asUint64("reference slot", r.ReferenceSlot)
	if err != nil {
		return nil, nil, err
	}
	deposited, err := asUint64("deposited validators", r.DepositedValidators)
	if err != nil {
		return nil, nil, err
	}
	exited, err := asUint64("exited validators", r.ExitedValidators)
	if err != nil {
		return nil, nil, err
	}
	clBalance, err := asUint64("cl balance", r.ClBalanceGwei)
	if err != nil {
		return nil, nil, err
	}
	vaultBalance, overflow := uint256.FromBig(r.WithdrawalVaultBalanceWei)
	if overflow {
		return nil, nil, fmt.Errorf("%w: withdrawal vault balance", ErrValueRange)
	}
	bcSlot, err := asUint64("bc slot", m.BcSlot)
	if err != nil {
		return nil, nil, err
	}
	epoch, err := asUint64("epoch", m.Epoch)
	if err != nil {
		return nil, nil, err
	}
	oldSlot, err := asUint64("old state slot", m.OldState.Slot)
	if err != nil {
		return nil, nil, err
	}
	newSlot, err := asUint64("new state slot", m.NewState.Slot)
	if err != nil {
		return nil, nil, err
	}
	mdVaultBalance, overflow := uint256.FromBig(m.WithdrawalVaultData.BalanceWei)
	if overflow {
		return nil, nil, fmt.Errorf("%w: metadata vault balance", ErrValueRange)
	}

	rep := &report.Report{
		ReferenceSlot: common.Slot(refSlot),
		Aggregates: report.Aggregates{
			Deposited: deposited,
			Exited:    exited,
			CLBalance: common.Gwei(clBalance),
		},
		WithdrawalVaultBalance: vaultBalance,
	}
	md := &report.Metadata{
		BcSlot:                common.Slot(bcSlot),
		Epoch:                 common.Epoch(epoch),
		WithdrawalCredentials: tree.Root(m.WithdrawalCredentials),
		BeaconBlockHash:       tree.Root(m.BeaconBlockHash),
		OldState: pool.ValidatorState{
			Slot:       common.Slot(oldSlot),
			MerkleRoot: tree.Root(m.OldState.MerkleRoot),
		},
		NewState: pool.ValidatorState{
			Slot:       common.Slot(newSlot),
			MerkleRoot: tree.Root(m.NewState.MerkleRoot),
		},
		WithdrawalVault: report.WithdrawalVault{
			Balance: mdVaultBalance,
			Address: m.WithdrawalVaultData.VaultAddress,
		},
	}
	return rep, md, nil
}

func asUint64(what string, v *big.Int) (uint64, error) {
	if v == nil || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrValueRange, what)
	}
	return v.Uint64(), nil
}
