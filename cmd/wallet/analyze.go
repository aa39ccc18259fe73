package main

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/xueqianLu/ethwallet/internal/query"
	"github.com/xueqianLu/ethwallet/internal/units"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <tx_hash>",
		Short: "Show the details of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			svc, err := a.queryService(cmd.Context())
			if err != nil {
				return err
			}
			view, err := svc.Lookup(cmd.Context(), hash)
			if err != nil {
				return err
			}
			printView(cmd.OutOrStdout(), a.cfg.Network.ExplorerURL, view)
			return nil
		},
	}
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func printView(w io.Writer, explorer string, v *query.TransactionView) {
	fmt.Fprintln(w, "Transaction Details:")
	fmt.Fprintf(w, "  Hash:      %s\n", v.Hash.Hex())
	fmt.Fprintf(w, "  From:      %s\n", v.From.Hex())
	if v.To != nil {
		fmt.Fprintf(w, "  To:        %s\n", v.To.Hex())
	} else {
		fmt.Fprintln(w, "  To:        (contract creation)")
	}
	fmt.Fprintf(w, "  Value:     %s ETH\n", units.FormatEther(v.Value))
	if v.GasLimit != 0 {
		fmt.Fprintf(w, "  Gas Limit: %d\n", v.GasLimit)
	}
	if v.GasFeeCap != nil {
		fmt.Fprintf(w, "  Max Fee:   %s gwei\n", units.FormatGwei(v.GasFeeCap))
		fmt.Fprintf(w, "  Tip Cap:   %s gwei\n", units.FormatGwei(v.GasTipCap))
	} else if v.GasPrice != nil {
		fmt.Fprintf(w, "  Gas Price: %s gwei\n", units.FormatGwei(v.GasPrice))
	}
	fmt.Fprintf(w, "  Nonce:     %d\n", v.Nonce)
	fmt.Fprintf(w, "  Status:    %s\n", v.Status)

	switch {
	case v.Receipt != nil:
		r := v.Receipt
		outcome := "Success"
		if r.Status != 1 {
			outcome = "Failed"
		}
		fmt.Fprintln(w, "Receipt Details:")
		fmt.Fprintf(w, "  Status:        %s\n", outcome)
		fmt.Fprintf(w, "  Gas Used:      %d\n", r.GasUsed)
		if r.EffectiveGasPrice != nil {
			fmt.Fprintf(w, "  Gas Price:     %s gwei\n", units.FormatGwei(r.EffectiveGasPrice))
		}
		fmt.Fprintf(w, "  Block Number:  %d\n", r.BlockNumber)
		fmt.Fprintf(w, "  Block Hash:    %s\n", r.BlockHash.Hex())
		fmt.Fprintf(w, "  Logs:          %d\n", r.LogCount)
		fmt.Fprintf(w, "  Confirmations: %d\n", v.Confirmations)
	case v.Pending:
		fmt.Fprintln(w, "Receipt Details: pending, not yet mined")
	default:
		fmt.Fprintln(w, "Receipt Details: unknown to the node")
	}

	if v.Local != nil {
		fmt.Fprintln(w, "Local Record:")
		fmt.Fprintf(w, "  Wallet:    %s\n", v.Local.FromLabel)
		fmt.Fprintf(w, "  Intent:    %s\n", v.Local.Intent)
		fmt.Fprintf(w, "  Submitted: %s\n", v.Local.SubmittedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(w, "  Status:    %s\n", v.Local.Status)
		if v.Local.Reason != "" {
			fmt.Fprintf(w, "  Reason:    %s\n", v.Local.Reason)
		}
	}
	if explorer != "" {
		fmt.Fprintf(w, "Explorer: %s/tx/%s\n", explorer, v.Hash.Hex())
	}
}
