package main

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ethwallet/internal/ledger"
	"github.com/xueqianLu/ethwallet/internal/txbuilder"
	"github.com/xueqianLu/ethwallet/internal/units"
)

func newAirdropCmd(a *app) *cobra.Command {
	var (
		flags  txFlags
		amount string
	)

	cmd := &cobra.Command{
		Use:   "airdrop <to>...",
		Short: "Distribute ether from the faucet wallet",
		Long: `Airdrop sends the configured amount (or --amount ether) from the faucet
wallet to every recipient. Transactions are broadcast one after another and
their receipts awaited together. The exit status is 1 if any transfer
failed, 2 if any outcome is unknown, 0 otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			var value *big.Int
			if amount != "" {
				v, err := units.ParseEther(amount)
				if err != nil {
					return err
				}
				value = v
			}
			// Refuse an over-cap amount before touching the network.
			limit, err := a.cfg.Airdrop.MaxPerRecipientWei()
			if err != nil {
				return err
			}
			if value != nil && value.Cmp(limit) > 0 {
				return fmt.Errorf("%w: %s ETH > %s ETH", txbuilder.ErrAirdropCapExceeded,
					units.FormatEther(value), units.FormatEther(limit))
			}
			fees, err := flags.fees()
			if err != nil {
				return err
			}

			reg, err := a.accounts()
			if err != nil {
				return err
			}
			recipients := make([]txbuilder.Request, 0, len(args))
			for _, arg := range args {
				to, err := reg.Resolve(arg)
				if err != nil {
					return err
				}
				recipients = append(recipients, txbuilder.Request{
					Intent: txbuilder.AirdropDistribution,
					To:     to.Address,
					Value:  value,
					Fees:   fees,
				})
			}

			src, err := a.passphrases()
			if err != nil {
				return err
			}
			pass, err := src.Passphrase(ctx, a.cfg.Airdrop.Faucet)
			if err != nil {
				return err
			}
			p, err := a.txPipeline(ctx, flags.timeout)
			if err != nil {
				return err
			}

			type delivery struct {
				rec *ledger.Record
				err error
			}
			results := make([]delivery, len(recipients))
			for i, req := range recipients {
				results[i].rec, results[i].err = p.Submit(ctx, req, pass)
				if ctx.Err() != nil {
					break
				}
			}

			if !flags.noWait {
				var wg sync.WaitGroup
				for i := range results {
					if results[i].err != nil || results[i].rec == nil {
						continue
					}
					wg.Add(1)
					go func(r *delivery) {
						defer wg.Done()
						r.rec, r.err = p.Await(ctx, r.rec.Hash)
					}(&results[i])
				}
				wg.Wait()
			}

			worst := outcomeOK
			for i, r := range results {
				var buf bytes.Buffer
				fmt.Fprintf(&buf, "[%d/%d] %s\n", i+1, len(results), recipients[i].To.Hex())
				o := outcomeFailed
				if r.rec == nil && r.err == nil {
					fmt.Fprintln(&buf, "  Skipped: interrupted")
				} else {
					o = report(&buf, a.cfg.Network.ExplorerURL, r.rec, r.err)
				}
				if o > worst {
					worst = o
				}
				_, _ = w.Write(buf.Bytes())
			}
			if worst != outcomeOK {
				return &exitError{code: worst.code()}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&amount, "amount", "", "ether per recipient (default airdrop.amount)")
	return cmd
}
