package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockberries/poe/account"
	"github.com/blockberries/poe/app"
	"github.com/blockberries/poe/types"
)

type txOptions struct {
	root     *rootOptions
	chainID  string
	seedHex  string
	claimHex bool
}

func txCmd(root *rootOptions) *cobra.Command {
	opts := &txOptions{root: root}

	c := &cobra.Command{
		Use:   "tx",
		Short: "Build signed claim transactions (printed as hex)",
	}
	c.PersistentFlags().StringVar(&opts.chainID, "chain-id", "", "chain id the signature is bound to (default: chain.id from config)")
	c.PersistentFlags().StringVar(&opts.seedHex, "seed", "", "signer seed (hex)")
	c.PersistentFlags().BoolVar(&opts.claimHex, "hex", false, "claim argument is hex encoded")
	_ = c.MarkPersistentFlagRequired("seed")

	c.AddCommand(
		&cobra.Command{
			Use:   "create <claim>",
			Short: "Register a claim",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(chainID string, kp *account.KeyPair, claim []byte, _ []string) (types.Tx, error) {
				return app.CreateTx(chainID, kp, claim)
			}),
		},
		&cobra.Command{
			Use:   "revoke <claim>",
			Short: "Revoke a claim",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(chainID string, kp *account.KeyPair, claim []byte, _ []string) (types.Tx, error) {
				return app.RevokeTx(chainID, kp, claim)
			}),
		},
		&cobra.Command{
			Use:   "transfer <claim> <account>",
			Short: "Transfer a claim to another account",
			Args:  cobra.ExactArgs(2),
			RunE: opts.run(func(chainID string, kp *account.KeyPair, claim []byte, args []string) (types.Tx, error) {
				target, err := account.Parse(args[1])
				if err != nil {
					return nil, err
				}
				return app.TransferTx(chainID, kp, target, claim)
			}),
		},
	)
	return c
}

type buildFunc func(chainID string, kp *account.KeyPair, claim []byte, args []string) (types.Tx, error)

func (o *txOptions) run(build buildFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		chainID, err := o.root.chainID(cmd, o.chainID)
		if err != nil {
			return err
		}
		kp, err := keyFromHex(o.seedHex)
		if err != nil {
			return err
		}
		claim := []byte(args[0])
		if o.claimHex {
			if claim, err = hex.DecodeString(args[0]); err != nil {
				return fmt.Errorf("decode claim: %w", err)
			}
		}
		tx, err := build(chainID, kp, claim, args)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(tx))
		return nil
	}
}
