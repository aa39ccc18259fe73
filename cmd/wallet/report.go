package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/xueqianLu/ethwallet/internal/ledger"
	"github.com/xueqianLu/ethwallet/internal/pipeline"
	"github.com/xueqianLu/ethwallet/internal/units"
)

// outcome is the reported result of one transaction.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeInconclusive
	outcomeFailed
)

func (o outcome) code() int {
	switch o {
	case outcomeOK:
		return exitOK
	case outcomeInconclusive:
		return exitInconclusive
	default:
		return exitFailure
	}
}

// report prints what happened to a submitted transaction. An inconclusive
// result is never reported as success.
func report(w io.Writer, explorer string, rec *ledger.Record, err error) outcome {
	if rec == nil {
		fmt.Fprintln(w, "Error:", err)
		return outcomeFailed
	}

	fmt.Fprintf(w, "Transaction: %s\n", rec.Hash.Hex())
	fmt.Fprintf(w, "  %s %s ETH from %s to %s (nonce %d)\n",
		rec.Intent, units.FormatEther(rec.Value), rec.From.Hex(), rec.To.Hex(), rec.Nonce)

	if err != nil {
		if rec.Status == ledger.StatusFailed {
			fmt.Fprintf(w, "  Status: %s\n", ledger.StatusFailed)
			fmt.Fprintln(w, "  Error:", err)
			return outcomeFailed
		}
		// Broadcast happened but the outcome is unknown.
		if errors.Is(err, pipeline.ErrTimeout) {
			fmt.Fprintf(w, "  Status: %s, no receipt before the timeout.\n", rec.Status)
		} else {
			fmt.Fprintf(w, "  Status: %s (%v)\n", rec.Status, err)
		}
		fmt.Fprintf(w, "  The transaction may still confirm. Check later with: wallet analyze %s\n", rec.Hash.Hex())
		printExplorer(w, explorer, rec)
		return outcomeInconclusive
	}

	switch rec.Status {
	case ledger.StatusConfirmed:
		fmt.Fprintf(w, "  Status: confirmed in block %d, gas used %d\n", rec.BlockNumber, rec.GasUsed)
		printExplorer(w, explorer, rec)
		return outcomeOK
	case ledger.StatusPending:
		fmt.Fprintf(w, "  Status: broadcast, not yet confirmed. Track it with: wallet status %s\n", rec.Hash.Hex())
		printExplorer(w, explorer, rec)
		return outcomeOK
	case ledger.StatusFailed:
		fmt.Fprintf(w, "  Status: failed in block %d: %s\n", rec.BlockNumber, rec.Reason)
		printExplorer(w, explorer, rec)
		return outcomeFailed
	default:
		fmt.Fprintf(w, "  Status: %s. The transaction may still confirm.\n", rec.Status)
		return outcomeInconclusive
	}
}

func printExplorer(w io.Writer, explorer string, rec *ledger.Record) {
	if explorer != "" {
		fmt.Fprintf(w, "  %s/tx/%s\n", explorer, rec.Hash.Hex())
	}
}
