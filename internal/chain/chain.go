// Package chain is the boundary to the Ethereum node. Everything the wallet
// asks of the network goes through Client, and every failure coming back is
// classified as unavailable (retryable), rejected (final) or not found.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrChainUnavailable means the node could not be reached or did not
	// answer. Callers may retry.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrRejected is matched by every *RejectedError.
	ErrRejected = errors.New("transaction rejected")
	// ErrNotFound means the node does not know the transaction or receipt.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyKnown is returned by Broadcast when the node already holds
	// the exact transaction in its pool.
	ErrAlreadyKnown = errors.New("already known")
)

// RejectedError carries the reason a node gave for refusing a transaction.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
}

// Is makes errors.Is(err, ErrRejected) hold for any rejection.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// FeeEstimate is the node's view of current gas prices. BaseFee is nil on
// chains without a fee market, in which case only GasPrice is meaningful.
type FeeEstimate struct {
	GasPrice *big.Int
	TipCap   *big.Int
	BaseFee  *big.Int
}

// Client is the RPC collaborator consumed by the builder, pipeline and
// query layer.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	EstimateFee(ctx context.Context) (*FeeEstimate, error)
	// Broadcast submits a signed transaction. It returns ErrAlreadyKnown,
	// a *RejectedError, or an error wrapping ErrChainUnavailable.
	Broadcast(ctx context.Context, tx *types.Transaction) error
	// Receipt returns ErrNotFound while the transaction is not yet mined.
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	// Transaction returns the transaction and whether it is still pending.
	Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// Unavailable wraps err as ErrChainUnavailable with op as context. Context
// cancellation is passed through unchanged.
func Unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrChainUnavailable, op, err)
}
