// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/xueqianLu/ethwallet/internal/chain"
)

var errConnRefused = errors.New("connection refused")

// Client is a programmable chain.Client. The zero value is not usable; call
// New. All methods are safe for concurrent use.
type Client struct {
	mu sync.Mutex

	chainID  *big.Int
	head     uint64
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	fee      chain.FeeEstimate

	// Broadcast behaviour.
	transientFailures int
	rejectReason      string
	alreadyKnown      bool
	autoMine          bool
	minedStatus       uint64

	// Read behaviour.
	unavailable bool

	broadcasts []*types.Transaction
	pool       map[common.Hash]*types.Transaction
	mined      map[common.Hash]*types.Transaction
	receipts   map[common.Hash]*types.Receipt

	broadcastAttempts int
	feeCalls          int
}

// New returns a client for chainID with a fee-market base fee of 1 gwei and
// a tip of 1 gwei. Transactions stay pending until Mine is called or
// AutoMine is enabled.
func New(chainID int64) *Client {
	gwei := big.NewInt(1_000_000_000)
	return &Client{
		chainID:  big.NewInt(chainID),
		head:     100,
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		fee: chain.FeeEstimate{
			GasPrice: new(big.Int).Mul(gwei, big.NewInt(2)),
			TipCap:   new(big.Int).Set(gwei),
			BaseFee:  new(big.Int).Set(gwei),
		},
		minedStatus: types.ReceiptStatusSuccessful,
		pool:        make(map[common.Hash]*types.Transaction),
		mined:       make(map[common.Hash]*types.Transaction),
		receipts:    make(map[common.Hash]*types.Receipt),
	}
}

// SetBalance sets the balance of addr in wei.
func (c *Client) SetBalance(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(wei)
}

// SetNonce sets the pending nonce reported for addr.
func (c *Client) SetNonce(addr common.Address, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[addr] = n
}

// SetFee replaces the fee estimate. A nil BaseFee makes the chain look
// pre-London.
func (c *Client) SetFee(fee chain.FeeEstimate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fee = fee
}

// FailBroadcasts makes the next n broadcasts fail with ErrChainUnavailable.
func (c *Client) FailBroadcasts(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transientFailures = n
}

// RejectBroadcasts makes every broadcast fail with a RejectedError.
func (c *Client) RejectBroadcasts(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectReason = reason
}

// AlreadyKnown makes every broadcast report that the node already has it.
func (c *Client) AlreadyKnown(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alreadyKnown = v
}

// SetUnavailable makes every read fail with ErrChainUnavailable.
func (c *Client) SetUnavailable(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable = v
}

// AutoMine mines each accepted transaction immediately with the given
// receipt status.
func (c *Client) AutoMine(status uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMine = true
	c.minedStatus = status
}

// Mine includes a pooled transaction in a new block with the given status.
// It returns false when hash is not in the pool.
func (c *Client) Mine(hash common.Hash, status uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.pool[hash]
	if !ok {
		return false
	}
	c.mineLocked(tx, status)
	return true
}

// AddMined records a transaction as already mined without it ever being
// broadcast through this client, like a transaction sent by another tool.
func (c *Client) AddMined(tx *types.Transaction, status uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineLocked(tx, status)
}

func (c *Client) mineLocked(tx *types.Transaction, status uint64) {
	c.head++
	delete(c.pool, tx.Hash())
	c.mined[tx.Hash()] = tx
	c.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: tx.Gas(),
		GasUsed:           tx.Gas(),
		EffectiveGasPrice: tx.GasPrice(),
		TxHash:            tx.Hash(),
		BlockHash:         common.BigToHash(new(big.Int).SetUint64(c.head)),
		BlockNumber:       new(big.Int).SetUint64(c.head),
		Logs:              []*types.Log{},
	}
}

// Broadcasts returns every transaction the node accepted, in order.
func (c *Client) Broadcasts() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.broadcasts...)
}

// BroadcastAttempts counts Broadcast calls, including failed ones.
func (c *Client) BroadcastAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broadcastAttempts
}

// FeeCalls counts EstimateFee calls.
func (c *Client) FeeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feeCalls
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr(ctx, "chain id"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.chainID), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr(ctx, "block number"); err != nil {
		return 0, err
	}
	return c.head, nil
}

func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr(ctx, "pending nonce"); err != nil {
		return 0, err
	}
	return c.nonces[addr], nil
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr(ctx, "balance"); err != nil {
		return nil, err
	}
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) EstimateFee(ctx context.Context) (*chain.FeeEstimate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeCalls++
	if err := c.readErr(ctx, "fee"); err != nil {
		return nil, err
	}
	return &chain.FeeEstimate{
		GasPrice: copyBig(c.fee.GasPrice),
		TipCap:   copyBig(c.fee.TipCap),
		BaseFee:  copyBig(c.fee.BaseFee),
	}, nil
}

// Broadcast accepts tx into the pool and bumps the sender's pending nonce,
// unless a failure mode is programmed.
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastAttempts++
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.transientFailures > 0 {
		c.transientFailures--
		return chain.Unavailable("send transaction", errConnRefused)
	}
	if c.rejectReason != "" {
		return &chain.RejectedError{Reason: c.rejectReason}
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return &chain.RejectedError{Reason: "invalid sender: " + err.Error()}
	}
	if tx.Nonce() < c.nonces[from] && !c.alreadyKnown {
		return &chain.RejectedError{Reason: "nonce too low"}
	}

	c.broadcasts = append(c.broadcasts, tx)
	if tx.Nonce() >= c.nonces[from] {
		c.nonces[from] = tx.Nonce() + 1
	}
	if c.autoMine {
		c.mineLocked(tx, c.minedStatus)
	} else {
		c.pool[tx.Hash()] = tx
	}
	if c.alreadyKnown {
		return chain.ErrAlreadyKnown
	}
	return nil
}

func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr(ctx, "receipt"); err != nil {
		return nil, err
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return r, nil
}

func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readErr(ctx, "transaction"); err != nil {
		return nil, false, err
	}
	if tx, ok := c.pool[hash]; ok {
		return tx, true, nil
	}
	if tx, ok := c.mined[hash]; ok {
		return tx, false, nil
	}
	return nil, false, chain.ErrNotFound
}

func (c *Client) readErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.unavailable {
		return chain.Unavailable(op, errConnRefused)
	}
	return nil
}

var _ chain.Client = (*Client)(nil)

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
