package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// UnsignedTransaction is a fully priced transaction waiting for a
// signature. Either GasPrice (legacy) or GasTipCap/GasFeeCap (EIP-1559) is
// set, never both.
type UnsignedTransaction struct {
	Intent    Intent
	FromLabel string
	From      common.Address
	To        common.Address
	Value     *big.Int
	Nonce     uint64
	GasLimit  uint64
	GasPrice  *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	ChainID   *big.Int
}

// Dynamic reports whether the transaction uses fee-market pricing.
func (u *UnsignedTransaction) Dynamic() bool {
	return u.GasFeeCap != nil
}

// MaxFeePerGas is the highest price per gas the sender can be charged.
func (u *UnsignedTransaction) MaxFeePerGas() *big.Int {
	if u.Dynamic() {
		return u.GasFeeCap
	}
	return u.GasPrice
}

// MaxCost is value plus the worst-case gas bill.
func (u *UnsignedTransaction) MaxCost() *big.Int {
	cost := new(big.Int).Mul(new(big.Int).SetUint64(u.GasLimit), u.MaxFeePerGas())
	return cost.Add(cost, u.Value)
}

// Tx returns the go-ethereum transaction. Each call builds a fresh value.
func (u *UnsignedTransaction) Tx() *types.Transaction {
	to := u.To
	if u.Dynamic() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).Set(u.ChainID),
			Nonce:     u.Nonce,
			GasTipCap: new(big.Int).Set(u.GasTipCap),
			GasFeeCap: new(big.Int).Set(u.GasFeeCap),
			Gas:       u.GasLimit,
			To:        &to,
			Value:     new(big.Int).Set(u.Value),
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    u.Nonce,
		GasPrice: new(big.Int).Set(u.GasPrice),
		Gas:      u.GasLimit,
		To:       &to,
		Value:    new(big.Int).Set(u.Value),
	})
}
