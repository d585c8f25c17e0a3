package oracle

import (
	"fmt"
	"strconv"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/protolambda/ztyp/tree"

	"github.com/kysee/zk-accounting/types"
)

// Config holds the oracle daemon configuration. Values come from ORACLE_*
// environment variables and may be overridden by command line flags.
type Config struct {
	RootDir string `envconfig:"ROOT_DIR" default:"."`

	// SnapshotEndpoint serves beacon state snapshot bundles.
	SnapshotEndpoint string `envconfig:"SNAPSHOT_ENDPOINT" default:"http://localhost:8545/"`
	// ProverEndpoint is the proving service; empty runs verification only.
	ProverEndpoint string `envconfig:"PROVER_ENDPOINT"`

	WithdrawalCredentials string `envconfig:"WITHDRAWAL_CREDENTIALS"`
	VaultAddress          string `envconfig:"VAULT_ADDRESS"`

	// Slot is the first reference slot to report on.
	Slot uint64 `envconfig:"SLOT"`
	// SlotsPerReport is the reporting cadence; 7200 slots is one day.
	SlotsPerReport uint64 `envconfig:"SLOTS_PER_REPORT" default:"7200"`

	RetryDelay time.Duration `envconfig:"RETRY_DELAY" default:"12s"`
}

func NewConfig(args ...string) (*Config, error) {
	var config Config
	if err := envconfig.Process("oracle", &config); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--slot", "--root", "--snapshot", "--prover", "--credentials", "--vault":
			if len(args) <= i+1 {
				return nil, fmt.Errorf("missing argument for %s", args[i])
			}
		default:
			continue
		}

		value := args[i+1]
		var err error
		switch args[i] {
		case "--slot":
			config.Slot, err = strconv.ParseUint(value, 10, 64)
		case "--root":
			config.RootDir = value
		case "--snapshot":
			config.SnapshotEndpoint = value
		case "--prover":
			config.ProverEndpoint = value
		case "--credentials":
			config.WithdrawalCredentials = value
		case "--vault":
			config.VaultAddress = value
		}
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", args[i], err)
		}
		i++
	}

	return &config, nil
}

// Credentials parses the configured withdrawal credentials.
func (c *Config) Credentials() (tree.Root, error) {
	var root tree.Root
	raw, err := types.HexToBytes(c.WithdrawalCredentials)
	if err != nil {
		return root, fmt.Errorf("withdrawal credentials: %w", err)
	}
	if len(raw) != len(root) {
		return root, fmt.Errorf("withdrawal credentials: expected %d bytes, got %d", len(root), len(raw))
	}
	copy(root[:], raw)
	return root, nil
}

// Vault parses the configured withdrawal vault address.
func (c *Config) Vault() (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(c.VaultAddress) {
		return ethcommon.Address{}, fmt.Errorf("invalid vault address %q", c.VaultAddress)
	}
	return ethcommon.HexToAddress(c.VaultAddress), nil
}
