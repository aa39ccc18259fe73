package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	var cfgPath, logLevel string

	root := &cobra.Command{
		Use:   "wallet",
		Short: "Ethereum test-network wallet",
		Long: `wallet keeps encrypted keys on disk and sends transfers and faucet
airdrops to an Ethereum network, tracking each transaction until it is
confirmed, fails or is given up on.

Exit status is 0 on success, 1 on failure and 2 when the outcome is
unknown (the transaction may still confirm).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cfgPath, logLevel)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./config.yaml, then $HOME/.ethwallet/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newCreateCmd(a),
		newListCmd(a),
		newSendCmd(a),
		newAirdropCmd(a),
		newAnalyzeCmd(a),
		newStatusCmd(a),
	)
	return root
}
