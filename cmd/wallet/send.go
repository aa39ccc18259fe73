package main

import (
	"github.com/spf13/cobra"

	"github.com/xueqianLu/ethwallet/internal/txbuilder"
	"github.com/xueqianLu/ethwallet/internal/units"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		flags txFlags
		inWei bool
	)

	cmd := &cobra.Command{
		Use:   "send <from> <to> <amount>",
		Short: "Send ether from a wallet",
		Long: `Send transfers <amount> ether (or wei with --wei) from the wallet <from>
to <to>, which is an address or another wallet label, and waits for the
receipt.`,
		Example: "  wallet send alice 0x000000000000000000000000000000000000bEEF 0.01",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			parse := units.ParseEther
			if inWei {
				parse = units.ParseWei
			}
			value, err := parse(args[2])
			if err != nil {
				return err
			}
			fees, err := flags.fees()
			if err != nil {
				return err
			}
			reg, err := a.accounts()
			if err != nil {
				return err
			}
			from, err := reg.ByLabel(args[0])
			if err != nil {
				return err
			}
			to, err := reg.Resolve(args[1])
			if err != nil {
				return err
			}

			src, err := a.passphrases()
			if err != nil {
				return err
			}
			pass, err := src.Passphrase(ctx, from.Label)
			if err != nil {
				return err
			}

			p, err := a.txPipeline(ctx, flags.timeout)
			if err != nil {
				return err
			}
			req := txbuilder.Request{
				Intent: txbuilder.Transfer,
				From:   from.Label,
				To:     to.Address,
				Value:  value,
				Fees:   fees,
			}
			send := p.Send
			if flags.noWait {
				send = p.Submit
			}
			rec, err := send(ctx, req, pass)
			if rec == nil {
				return err
			}
			if o := report(cmd.OutOrStdout(), a.cfg.Network.ExplorerURL, rec, err); o != outcomeOK {
				return &exitError{code: o.code()}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&inWei, "wei", false, "amount is in wei")
	return cmd
}
