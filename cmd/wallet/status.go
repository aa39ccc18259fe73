package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/xueqianLu/ethwallet/internal/txbuilder"
	"github.com/xueqianLu/ethwallet/internal/units"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		from    string
		intent  string
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status [tx_hash]",
		Short: "Show transactions submitted from this machine",
		Long: `Status lists the local transaction ledger, or shows one record. With
--wait it polls a pending or dropped transaction for its receipt again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			l, err := a.openLedger()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				var filter *common.Address
				if from != "" {
					reg, err := a.accounts()
					if err != nil {
						return err
					}
					acct, err := reg.Resolve(from)
					if err != nil {
						return err
					}
					filter = &acct.Address
				}
				records, err := l.List(filter)
				if err != nil {
					return err
				}
				if intent != "" {
					want, err := txbuilder.ParseIntent(intent)
					if err != nil {
						return err
					}
					kept := records[:0]
					for _, r := range records {
						if r.Intent == want.String() {
							kept = append(kept, r)
						}
					}
					records = kept
				}
				if len(records) == 0 {
					fmt.Fprintf(w, "No transactions recorded in %s.\n", l.Path())
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SUBMITTED\tHASH\tWALLET\tNONCE\tVALUE (ETH)\tSTATUS")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
						r.SubmittedAt.Format("2006-01-02 15:04:05"), r.Hash.Hex(), r.FromLabel,
						r.Nonce, units.FormatEther(r.Value), r.Status)
				}
				return tw.Flush()
			}

			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			rec, err := l.Get(hash)
			if err != nil {
				return err
			}
			if wait && !rec.Status.Final() {
				p, err := a.txPipeline(cmd.Context(), timeout)
				if err != nil {
					return err
				}
				rec, err = p.Await(cmd.Context(), hash)
				if rec == nil {
					return err
				}
				if o := report(w, a.cfg.Network.ExplorerURL, rec, err); o != outcomeOK {
					return &exitError{code: o.code()}
				}
				return nil
			}

			fmt.Fprintf(w, "Hash:      %s\n", rec.Hash.Hex())
			fmt.Fprintf(w, "Intent:    %s\n", rec.Intent)
			fmt.Fprintf(w, "Wallet:    %s (%s)\n", rec.FromLabel, rec.From.Hex())
			fmt.Fprintf(w, "To:        %s\n", rec.To.Hex())
			fmt.Fprintf(w, "Value:     %s ETH\n", units.FormatEther(rec.Value))
			fmt.Fprintf(w, "Nonce:     %d\n", rec.Nonce)
			fmt.Fprintf(w, "Submitted: %s\n", rec.SubmittedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(w, "Broadcast: %d attempt(s)\n", rec.BroadcastAttempts)
			fmt.Fprintf(w, "Checks:    %d\n", rec.AttemptCount)
			fmt.Fprintf(w, "Status:    %s\n", rec.Status)
			if rec.Reason != "" {
				fmt.Fprintf(w, "Reason:    %s\n", rec.Reason)
			}
			if rec.BlockNumber != 0 {
				fmt.Fprintf(w, "Block:     %d (gas used %d)\n", rec.BlockNumber, rec.GasUsed)
			}
			if !rec.Status.Final() {
				fmt.Fprintf(w, "The transaction may still confirm. Run: wallet status --wait %s\n", rec.Hash.Hex())
				return &exitError{code: exitInconclusive}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "only show transactions sent by this wallet label or address")
	cmd.Flags().StringVar(&intent, "intent", "", "only show transactions of this kind (transfer or airdrop)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll for the receipt of a pending or dropped transaction")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait with --wait (default pipeline.confirm_timeout)")
	return cmd
}
