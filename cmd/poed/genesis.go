package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/poe/types"
)

func genesisCmd(root *rootOptions) *cobra.Command {
	var (
		chainID        string
		maxClaimLength uint32
		output         string
	)

	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Write a genesis document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := root.chainID(cmd, chainID)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-claim-length") {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				maxClaimLength = cfg.Registry.MaxClaimLength
			}
			doc, err := buildGenesis(id, maxClaimLength, time.Now().UTC())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(toFile(doc), "", "  ")
			if err != nil {
				return fmt.Errorf("encode genesis: %w", err)
			}
			data = append(data, '\n')

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}

	cmd.Flags().StringVar(&chainID, "chain-id", "", "chain id (default: chain.id from config)")
	cmd.Flags().Uint32Var(&maxClaimLength, "max-claim-length", 0, "maximum claim size in bytes (default: registry.max_claim_length from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func buildGenesis(chainID string, maxClaimLength uint32, now time.Time) (types.GenesisDoc, error) {
	if chainID == "" {
		return types.GenesisDoc{}, fmt.Errorf("chain id is required")
	}
	if maxClaimLength == 0 {
		return types.GenesisDoc{}, fmt.Errorf("max claim length must be positive")
	}
	appState, err := json.Marshal(struct {
		MaxClaimLength uint32 `json:"max_claim_length"`
	}{maxClaimLength})
	if err != nil {
		return types.GenesisDoc{}, err
	}
	return types.GenesisDoc{
		ChainID:       chainID,
		GenesisTime:   types.TimeToTimestamp(now),
		InitialHeight: 1,
		ConsensusParams: types.ConsensusParams{
			MaxBlockBytes: 1024 * 1024,
			MaxTxBytes:    64 * 1024,
		},
		AppState: appState,
	}, nil
}

// genesisFile is the JSON form of a genesis document.
type genesisFile struct {
	ChainID         string    `json:"chain_id"`
	GenesisTime     time.Time `json:"genesis_time"`
	InitialHeight   uint64    `json:"initial_height"`
	ConsensusParams struct {
		MaxBlockBytes uint64 `json:"max_block_bytes"`
		MaxTxBytes    uint64 `json:"max_tx_bytes"`
	} `json:"consensus_params"`
	AppState json.RawMessage `json:"app_state"`
}

func toFile(doc types.GenesisDoc) genesisFile {
	f := genesisFile{
		ChainID:       doc.ChainID,
		GenesisTime:   doc.GenesisTime.ToTime(),
		InitialHeight: doc.InitialHeight,
		AppState:      doc.AppState,
	}
	f.ConsensusParams.MaxBlockBytes = doc.ConsensusParams.MaxBlockBytes
	f.ConsensusParams.MaxTxBytes = doc.ConsensusParams.MaxTxBytes
	return f
}
