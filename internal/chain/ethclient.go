package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/logger"
)

const (
	// limitExceededCode is the JSON-RPC code hosted providers use for rate limits.
	limitExceededCode = -32005
	internalErrorCode = -32603
)

// temporaryMessages are node replies to a broadcast that say nothing about
// the transaction itself.
var temporaryMessages = []string{
	"txpool is full",
	"transaction pool is full",
	"too many requests",
	"rate limit",
	"timeout",
	"try again",
	"syncing",
}

// EthClient implements Client on top of go-ethereum's ethclient.
type EthClient struct {
	client *ethclient.Client
	log    *zap.Logger
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, log *zap.Logger) (*EthClient, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, Unavailable("dial", err)
	}
	return NewEthClient(ethclient.NewClient(rc), log), nil
}

// NewEthClient wraps an existing ethclient.
func NewEthClient(c *ethclient.Client, log *zap.Logger) *EthClient {
	return &EthClient{client: c, log: logger.OrNop(log)}
}

// Close releases the underlying connection.
func (c *EthClient) Close() {
	c.client.Close()
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, classify("chain id", err)
	}
	return id, nil
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, classify("block number", err)
	}
	return n, nil
}

func (c *EthClient) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, classify("pending nonce", err)
	}
	return n, nil
}

func (c *EthClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	b, err := c.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, classify("balance", err)
	}
	return b, nil
}

// EstimateFee asks the node for its suggested gas price and, when the head
// block carries a base fee, the suggested priority tip.
func (c *EthClient) EstimateFee(ctx context.Context) (*FeeEstimate, error) {
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classify("latest header", err)
	}
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify("gas price", err)
	}
	est := &FeeEstimate{GasPrice: price}
	if head.BaseFee == nil {
		return est, nil
	}
	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, classify("gas tip", err)
	}
	est.BaseFee = new(big.Int).Set(head.BaseFee)
	est.TipCap = tip
	return est, nil
}

func (c *EthClient) Broadcast(ctx context.Context, tx *types.Transaction) error {
	err := c.client.SendTransaction(ctx, tx)
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := rpcErr.Error()
		if isAlreadyKnown(msg) {
			c.log.Debug("Node already holds transaction", zap.Stringer("hash", tx.Hash()))
			return ErrAlreadyKnown
		}
		if isTemporary(rpcErr.ErrorCode(), msg) {
			return Unavailable("send transaction", err)
		}
		return &RejectedError{Reason: msg}
	}
	return classify("send transaction", err)
}

func (c *EthClient) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, classify("receipt", err)
	}
	return r, nil
}

func (c *EthClient) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, pending, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, false, classify("transaction", err)
	}
	return tx, pending, nil
}

func isAlreadyKnown(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isTemporary(code int, msg string) bool {
	if code == limitExceededCode || code == internalErrorCode {
		return true
	}
	msg = strings.ToLower(msg)
	for _, m := range temporaryMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify maps a read error from ethclient onto the package sentinels.
func classify(op string, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError &&
		httpErr.StatusCode != http.StatusTooManyRequests && httpErr.StatusCode != http.StatusRequestTimeout {
		// Bad credentials or a wrong URL will not fix themselves.
		return fmt.Errorf("%s: %w", op, err)
	}
	return Unavailable(op, err)
}
