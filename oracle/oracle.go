// Package oracle is the host-side daemon: it fetches beacon state snapshots,
// assembles program inputs, verifies them locally, requests proofs and
// persists the advancing accounting state between reports.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/zrnt/eth2/configs"
	"github.com/protolambda/ztyp/tree"
	"github.com/rs/zerolog"

	"github.com/kysee/zk-accounting/pool"
	"github.com/kysee/zk-accounting/publicvalues"
	"github.com/kysee/zk-accounting/report"
	"github.com/kysee/zk-accounting/types"
	"github.com/kysee/zk-accounting/verifier"
	"github.com/kysee/zk-accounting/witness"
)

// Main is the daemon entry point.
func Main(config *Config) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	oracle, err := New(config, NewAPIFetcher(config.SnapshotEndpoint), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create oracle")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := oracle.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("oracle stopped")
	}
}

type Oracle struct {
	config   *Config
	fetcher  Fetcher
	store    *Store
	prover   Prover
	verifier *verifier.Verifier
	log      zerolog.Logger

	credentials tree.Root
}

func New(config *Config, fetcher Fetcher, log zerolog.Logger) (*Oracle, error) {
	credentials, err := config.Credentials()
	if err != nil {
		return nil, err
	}
	if _, err := config.Vault(); err != nil {
		return nil, err
	}

	store, err := NewStore(config.RootDir)
	if err != nil {
		return nil, err
	}

	var prover Prover = NopProver{}
	if config.ProverEndpoint != "" {
		prover = NewHTTPProver(config.ProverEndpoint)
	}

	return &Oracle{
		config:      config,
		fetcher:     fetcher,
		store:       store,
		prover:      prover,
		verifier:    verifier.New(configs.Mainnet, log),
		log:         log,
		credentials: credentials,
	}, nil
}

// Run reports at the configured cadence until the context is cancelled. A
// failed slot is retried after the retry delay; the accounting state only
// advances on success.
func (o *Oracle) Run(ctx context.Context) error {
	slot := o.config.Slot
	o.log.Info().Uint64("slot", slot).Msg("starting oracle")

	for {
		rep, err := o.RunOnce(slot)
		if err != nil {
			o.log.Error().Err(err).Uint64("slot", slot).Msg("report failed")
		} else {
			o.log.Info().
				Uint64("slot", slot).
				Uint64("deposited", rep.Deposited).
				Uint64("exited", rep.Exited).
				Uint64("cl_balance_gwei", uint64(rep.CLBalance)).
				Msg("report accepted")
			slot += o.config.SlotsPerReport
		}

		select {
		case <-ctx.Done():
			o.log.Info().Msg("shutting down")
			return nil
		case <-time.After(o.config.RetryDelay):
		}
	}
}

// RunOnce produces a single report for the given reference slot: fetch the
// snapshot bundle, build and verify the program input, prove it and persist
// both the artifacts and the advanced accounting state.
func (o *Oracle) RunOnce(slot uint64) (*report.Report, error) {
	state, err := o.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	bundle, err := o.fetcher.Bundle(slot)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle: %w", err)
	}
	vaultAddress, _ := o.config.Vault()
	if bundle.Vault.Address != vaultAddress {
		return nil, fmt.Errorf("bundle vault address %s does not match configured %s",
			bundle.Vault.Address, vaultAddress)
	}

	params := witness.BuildParams{
		Spec:                  configs.Mainnet,
		WithdrawalCredentials: o.credentials,
		ReferenceSlot:         common.Slot(slot),
		OldState:              state.State,
		OldCapacity:           state.Capacity,
		OldLeaves:             state.Leaves,
		OldAggregates:         state.Aggregates,
		Vault:                 bundle.Vault,
	}
	input, changes, err := witness.Build(params, &bundle.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("build input: %w", err)
	}

	rep, md, err := o.verifier.Verify(input)
	if err != nil {
		return nil, fmt.Errorf("verify input: %w", err)
	}

	encoded, err := publicvalues.Encode(rep, md)
	if err != nil {
		return nil, fmt.Errorf("encode public values: %w", err)
	}
	raw, err := input.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	proof, err := o.prover.Prove(raw, encoded)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}

	if err := o.writeArtifacts(slot, rep, md, encoded, proof); err != nil {
		return nil, err
	}

	capacity := state.Capacity
	for _, c := range changes {
		if need := pool.Capacity(c.Index); need > capacity {
			capacity = need
		}
	}
	next := &State{
		State:      md.NewState,
		Capacity:   capacity,
		Aggregates: rep.Aggregates,
		Leaves:     pool.ApplyChanges(state.Leaves, changes),
	}
	if err := o.store.Save(next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return rep, nil
}

// ReportArtifacts is the per-report output file: everything a submitter needs
// to post the report on chain.
type ReportArtifacts struct {
	Report       *report.Report   `json:"report"`
	Metadata     *report.Metadata `json:"metadata"`
	PublicValues types.HexBytes   `json:"public_values"`
	Proof        types.HexBytes   `json:"proof,omitempty"`
}

func (o *Oracle) writeArtifacts(slot uint64, rep *report.Report, md *report.Metadata, publicValues, proof []byte) error {
	artifacts := ReportArtifacts{
		Report:       rep,
		Metadata:     md,
		PublicValues: publicValues,
		Proof:        proof,
	}
	data, err := json.MarshalIndent(&artifacts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	path := filepath.Join(o.config.RootDir, fmt.Sprintf("report-%d.json", slot))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}
	o.log.Info().Str("path", path).Msg("report artifacts written")
	return nil
}
