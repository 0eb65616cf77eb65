package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockberries/poe/account"
)

func keygenCmd() *cobra.Command {
	var seedHex string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an account key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				kp  *account.KeyPair
				err error
			)
			if seedHex != "" {
				kp, err = keyFromHex(seedHex)
			} else {
				kp, err = account.Generate(nil)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seed:    %s\n", hex.EncodeToString(kp.Seed()))
			fmt.Fprintf(out, "account: %s\n", kp.Account())
			return nil
		},
	}

	cmd.Flags().StringVar(&seedHex, "seed", "", "derive from a hex seed instead of generating one")
	return cmd
}

func keyFromHex(s string) (*account.KeyPair, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return account.FromSeed(seed)
}
