// Package report turns verified validator-state deltas into the aggregate
// counters the protocol contract consumes, and defines the report/metadata
// pair bound into the public values.
package report

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/pool"
)

var (
	ErrCounterOverflow   = errors.New("aggregate counter overflow")
	ErrBalanceUnderflow  = errors.New("aggregate balance underflow")
	ErrInconsistentCount = errors.New("exited count exceeds deposited count")
)

// Aggregates are the running totals over every validator the protocol has
// ever funded. Deposited counts all of them, exited included; CLBalance is
// the consensus-layer balance they still hold.
type Aggregates struct {
	Deposited uint64      `json:"deposited"`
	Exited    uint64      `json:"exited"`
	CLBalance common.Gwei `json:"cl_balance"`
}

// Check validates internal consistency.
func (a Aggregates) Check() error {
	if a.Exited > a.Deposited {
		return fmt.Errorf("%w: %d > %d", ErrInconsistentCount, a.Exited, a.Deposited)
	}
	return nil
}

// ApplyDelta folds verified leaf transitions into the previous aggregates.
// Pure: callers pass transitions whose old leaves are already proven against
// the previous tree root. An unseen→exited jump bumps both counters, since a
// validator that exits was necessarily funded first. Balances move by the
// signed per-leaf delta with checked arithmetic; an exited validator keeps
// contributing its residual balance until the sweep drains it.
func ApplyDelta(old Aggregates, changes []pool.LeafChange) (Aggregates, error) {
	out := old
	for _, c := range changes {
		if err := pool.CheckTransition(c); err != nil {
			return Aggregates{}, err
		}
		switch {
		case c.Old.Status == pool.StatusUnseen && c.New.Status == pool.StatusDeposited:
			out.Deposited++
		case c.Old.Status == pool.StatusUnseen && c.New.Status == pool.StatusExited:
			out.Deposited++
			out.Exited++
		case c.Old.Status == pool.StatusDeposited && c.New.Status == pool.StatusExited:
			out.Exited++
		}
		if out.Deposited == 0 && old.Deposited > 0 {
			return Aggregates{}, fmt.Errorf("%w: deposited", ErrCounterOverflow)
		}

		if c.New.Balance >= c.Old.Balance {
			gained := c.New.Balance - c.Old.Balance
			if out.CLBalance+gained < out.CLBalance {
				return Aggregates{}, fmt.Errorf("%w: cl balance", ErrCounterOverflow)
			}
			out.CLBalance += gained
		} else {
			lost := c.Old.Balance - c.New.Balance
			if lost > out.CLBalance {
				return Aggregates{}, fmt.Errorf("%w: validator %d releases %d of %d", ErrBalanceUnderflow, c.Index, lost, out.CLBalance)
			}
			out.CLBalance -= lost
		}
	}
	if err := out.Check(); err != nil {
		return Aggregates{}, err
	}
	return out, nil
}

// Report is the payload the protocol contract acts on.
type Report struct {
	ReferenceSlot common.Slot `json:"reference_slot"`
	Aggregates
	WithdrawalVaultBalance *uint256.Int `json:"withdrawal_vault_balance"`
}

// WithdrawalVault is the execution-layer vault binding in the metadata.
type WithdrawalVault struct {
	Balance *uint256.Int      `json:"balance"`
	Address ethcommon.Address `json:"vault_address"`
}

// Metadata binds a report to the consensus state it was computed from and to
// the oracle state chain.
type Metadata struct {
	BcSlot                common.Slot         `json:"bc_slot"`
	Epoch                 common.Epoch        `json:"epoch"`
	WithdrawalCredentials tree.Root           `json:"withdrawal_credentials"`
	BeaconBlockHash       tree.Root           `json:"beacon_block_hash"`
	OldState              pool.ValidatorState `json:"old_state"`
	NewState              pool.ValidatorState `json:"new_state"`
	WithdrawalVault       WithdrawalVault     `json:"withdrawal_vault"`
}
