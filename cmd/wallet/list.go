package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ethwallet/internal/units"
)

func newListCmd(a *app) *cobra.Command {
	var balances bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.accounts()
			if err != nil {
				return err
			}
			if reg.Len() == 0 {
				ks, err := a.keyStore()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "No wallets in %s.\n", ks.Dir())
				return nil
			}
			accounts := reg.Accounts()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if !balances {
				fmt.Fprintln(tw, "LABEL\tADDRESS")
				for _, acc := range accounts {
					fmt.Fprintf(tw, "%s\t%s\n", acc.Label, acc.Address.Hex())
				}
				return tw.Flush()
			}

			client, err := a.chainClient(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "LABEL\tADDRESS\tBALANCE (ETH)")
			for _, acc := range accounts {
				bal, err := client.BalanceAt(cmd.Context(), acc.Address)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", acc.Label, acc.Address.Hex(), units.FormatEther(bal))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&balances, "balances", false, "also fetch each balance from the node")
	return cmd
}
