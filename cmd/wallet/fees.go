package main

import (
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/xueqianLu/ethwallet/internal/txbuilder"
	"github.com/xueqianLu/ethwallet/internal/units"
)

// txFlags are the flags shared by send and airdrop.
type txFlags struct {
	gasPrice string
	tipCap   string
	feeCap   string
	gasLimit uint64
	noWait   bool
	timeout  time.Duration
}

func (f *txFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.gasPrice, "gas-price", "", "legacy gas price in gwei")
	cmd.Flags().StringVar(&f.tipCap, "tip-cap", "", "EIP-1559 priority fee in gwei")
	cmd.Flags().StringVar(&f.feeCap, "fee-cap", "", "EIP-1559 max fee per gas in gwei")
	cmd.Flags().Uint64Var(&f.gasLimit, "gas-limit", 0, "gas limit (default gas.limit)")
	cmd.Flags().BoolVar(&f.noWait, "no-wait", false, "return after broadcast without waiting for a receipt")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "how long to wait for a receipt (default pipeline.confirm_timeout)")
	cmd.MarkFlagsMutuallyExclusive("gas-price", "tip-cap")
	cmd.MarkFlagsMutuallyExclusive("gas-price", "fee-cap")
}

func (f *txFlags) fees() (txbuilder.Fees, error) {
	fees := txbuilder.Fees{GasLimit: f.gasLimit}
	var err error
	if fees.GasPrice, err = optionalGwei(f.gasPrice); err != nil {
		return fees, err
	}
	if fees.TipCap, err = optionalGwei(f.tipCap); err != nil {
		return fees, err
	}
	if fees.FeeCap, err = optionalGwei(f.feeCap); err != nil {
		return fees, err
	}
	return fees, nil
}

func optionalGwei(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return units.ParseGwei(s)
}
