package publicvalues

import (
	"encoding/binary"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"
	"github.com/stretchr/testify/require"

	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/report"
)

func sampleReport() (*report.Report, *report.Metadata) {
	rep := &report.Report{
		ReferenceSlot: 10_000_032,
		Aggregates: report.Aggregates{
			Deposited: 120_000,
			Exited:    3_500,
			CLBalance: 3_840_000_000_000_000,
		},
		WithdrawalVaultBalance: uint256.NewInt(0).Mul(uint256.NewInt(15), uint256.NewInt(1e18)),
	}
	md := &report.Metadata{
		BcSlot:                10_000_000,
		Epoch:                 312_500,
		WithdrawalCredentials: tree.Root{0x01, 0xcc},
		BeaconBlockHash:       tree.Root{0xbb},
		OldState:              pool.ValidatorState{Slot: 9_900_000, MerkleRoot: tree.Root{0x0a}},
		NewState:              pool.ValidatorState{Slot: 10_000_000, MerkleRoot: tree.Root{0x0b}},
		WithdrawalVault: report.WithdrawalVault{
			Balance: uint256.NewInt(0).Mul(uint256.NewInt(15), uint256.NewInt(1e18)),
			Address: ethcommon.HexToAddress("0xb9d7934878b5fb9610b3fe8a5e441e8fad7e293f"),
		},
	}
	return rep, md
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rep, md := sampleReport()

	data, err := Encode(rep, md)
	require.NoError(t, err)
	require.Len(t, data, EncodedLength)

	gotRep, gotMd, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, rep, gotRep)
	require.Equal(t, md, gotMd)
}

func TestEncodeLayout(t *testing.T) {
	rep, md := sampleReport()

	data, err := Encode(rep, md)
	require.NoError(t, err)

	word := func(i int) []byte { return data[i*32 : (i+1)*32] }

	// static tuple: each field is one big-endian word in declaration order
	require.Equal(t, uint64(10_000_032), binary.BigEndian.Uint64(word(0)[24:]))
	require.Equal(t, uint64(120_000), binary.BigEndian.Uint64(word(1)[24:]))
	require.Equal(t, uint64(3_500), binary.BigEndian.Uint64(word(2)[24:]))
	require.Equal(t, uint64(3_840_000_000_000_000), binary.BigEndian.Uint64(word(3)[24:]))
	require.Equal(t, rep.WithdrawalVaultBalance.Bytes32(), [32]byte(word(4)))

	require.Equal(t, uint64(10_000_000), binary.BigEndian.Uint64(word(5)[24:]))
	require.Equal(t, uint64(312_500), binary.BigEndian.Uint64(word(6)[24:]))
	require.Equal(t, [32]byte(md.WithdrawalCredentials), [32]byte(word(7)))
	require.Equal(t, [32]byte(md.BeaconBlockHash), [32]byte(word(8)))
	require.Equal(t, uint64(9_900_000), binary.BigEndian.Uint64(word(9)[24:]))
	require.Equal(t, [32]byte(md.OldState.MerkleRoot), [32]byte(word(10)))
	require.Equal(t, uint64(10_000_000), binary.BigEndian.Uint64(word(11)[24:]))
	require.Equal(t, [32]byte(md.NewState.MerkleRoot), [32]byte(word(12)))
	require.Equal(t, md.WithdrawalVault.Balance.Bytes32(), [32]byte(word(13)))
	require.Equal(t, md.WithdrawalVault.Address, ethcommon.BytesToAddress(word(14)[12:]))
}

func TestEncodeDecodeExtremes(t *testing.T) {
	maxU256 := uint256.NewInt(0).Not(uint256.NewInt(0))

	zeroRep := &report.Report{WithdrawalVaultBalance: uint256.NewInt(0)}
	zeroMd := &report.Metadata{
		WithdrawalVault: report.WithdrawalVault{Balance: uint256.NewInt(0)},
	}
	maxRep := &report.Report{
		ReferenceSlot: ^common.Slot(0),
		Aggregates: report.Aggregates{
			Deposited: ^uint64(0),
			Exited:    ^uint64(0),
			CLBalance: ^common.Gwei(0),
		},
		WithdrawalVaultBalance: maxU256,
	}
	maxMd := &report.Metadata{
		BcSlot:                ^common.Slot(0),
		Epoch:                 ^common.Epoch(0),
		WithdrawalCredentials: tree.Root{0xff, 0xff},
		BeaconBlockHash:       tree.Root{0xff},
		OldState:              pool.ValidatorState{Slot: ^common.Slot(0)},
		NewState:              pool.ValidatorState{Slot: ^common.Slot(0)},
		WithdrawalVault: report.WithdrawalVault{
			Balance: maxU256,
			Address: ethcommon.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff"),
		},
	}

	for _, tc := range []struct {
		rep *report.Report
		md  *report.Metadata
	}{
		{zeroRep, zeroMd},
		{maxRep, maxMd},
	} {
		data, err := Encode(tc.rep, tc.md)
		require.NoError(t, err)

		gotRep, gotMd, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, tc.rep, gotRep)
		require.Equal(t, tc.md, gotMd)
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	rep, md := sampleReport()
	data, err := Encode(rep, md)
	require.NoError(t, err)

	_, _, err = Decode(data[:EncodedLength-1])
	require.ErrorIs(t, err, ErrBadLength)

	_, _, err = Decode(append(data, 0x00))
	require.ErrorIs(t, err, ErrBadLength)

	_, _, err = Decode(nil)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestDecodeRejectsOversizedCounters(t *testing.T) {
	rep, md := sampleReport()
	data, err := Encode(rep, md)
	require.NoError(t, err)

	// force a bit above uint64 range into the deposited counter word
	data[32+10] = 0x01
	_, _, err = Decode(data)
	require.ErrorIs(t, err, ErrValueRange)
}

func TestEncodeNilArguments(t *testing.T) {
	rep, md := sampleReport()
	_, err := Encode(nil, md)
	require.ErrorIs(t, err, ErrNilArgument)
	_, err = Encode(rep, nil)
	require.ErrorIs(t, err, ErrNilArgument)
}
