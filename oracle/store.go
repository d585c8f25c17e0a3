package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/report"
)

// State is the oracle's durable accounting position: the last accepted
// validator state commitment, its tree capacity, the running aggregates and
// the tracked leaf set behind the merkle root.
type State struct {
	State      pool.ValidatorState       `json:"state"`
	Capacity   uint64                    `json:"capacity"`
	Aggregates report.Aggregates         `json:"aggregates"`
	Leaves     map[uint64]pool.StateLeaf `json:"leaves"`
}

// Store persists the oracle state as a JSON file under the root directory.
type Store struct {
	path string
}

func NewStore(rootDir string) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("create root dir: %w", err)
	}
	return &Store{path: filepath.Join(rootDir, "oracle-state.json")}, nil
}

// Load reads the persisted state. A missing file yields the genesis position:
// empty tree, zero aggregates.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{
			State:    pool.GenesisState(),
			Capacity: pool.GenesisCapacity,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if err := state.Aggregates.Check(); err != nil {
		return nil, fmt.Errorf("persisted state: %w", err)
	}
	return &state, nil
}

func (s *Store) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
