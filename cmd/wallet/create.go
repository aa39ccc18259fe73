package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ethwallet/internal/keystore"
	"github.com/xueqianLu/ethwallet/internal/passphrase"
)

func newCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <label>",
		Short: "Create a new wallet",
		Long: `Create generates a key pair and stores it under <label>, encrypted with
a passphrase. The private key is never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			ctx := cmd.Context()

			ks, err := a.keyStore()
			if err != nil {
				return err
			}
			if err := keystore.ValidateLabel(label); err != nil {
				return err
			}
			if _, err := ks.Get(label); err == nil {
				return fmt.Errorf("%w: %s", keystore.ErrDuplicateLabel, label)
			} else if !errors.Is(err, keystore.ErrNotFound) {
				return err
			}

			src, err := a.passphrases()
			if err != nil {
				return err
			}
			pass, err := src.NewPassphrase(ctx, label)
			if err != nil {
				return err
			}
			if c, ok := src.(passphrase.Committer); ok {
				if err := c.Commit(ctx, label, pass); err != nil {
					return err
				}
			}

			w, err := ks.Create(label, pass)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created wallet %s\nAddress: %s\n", w.Label, w.Address.Hex())
			return nil
		},
	}
}
