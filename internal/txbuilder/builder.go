// Package txbuilder turns a transfer or airdrop request into a priced,
// nonce-assigned UnsignedTransaction.
package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/chain"
	"github.com/xueqianLu/ethwallet/internal/keystore"
	"github.com/xueqianLu/ethwallet/internal/logger"
	"github.com/xueqianLu/ethwallet/internal/units"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAirdropCapExceeded = errors.New("airdrop amount exceeds per-recipient cap")
	ErrInvalidValue       = errors.New("invalid value")
	ErrInvalidFees        = errors.New("invalid fee parameters")
	ErrSelfTransfer       = errors.New("recipient is the sender")
)

const (
	feeCacheKey       = "fee"
	defaultFeeTTL     = 12 * time.Second
	baseFeeMultiplier = 2
)

// Accounts resolves a wallet label to its address.
type Accounts interface {
	ByLabel(label string) (keystore.Account, error)
}

// NonceSource hands out the next nonce for an address. Callers hold the
// per-address lock around Build.
type NonceSource interface {
	Next(ctx context.Context, addr common.Address) (uint64, error)
}

// Fees overrides gas parameters for one request. Setting GasPrice selects a
// legacy transaction; setting TipCap or FeeCap selects EIP-1559. Nil fields
// fall back to the builder defaults, then to the node's estimate.
type Fees struct {
	GasLimit uint64
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

func (f Fees) priced() bool {
	return f.GasPrice != nil || f.TipCap != nil || f.FeeCap != nil
}

// Request is the logical intent handed to Build.
type Request struct {
	Intent Intent
	// From is the sender's wallet label. Airdrops always use the faucet.
	From string
	To   common.Address
	// Value in wei. For airdrops nil means the configured amount.
	Value *big.Int
	Fees  Fees
}

// AirdropPolicy is the faucet configuration.
type AirdropPolicy struct {
	Faucet          string
	Amount          *big.Int
	MaxPerRecipient *big.Int
}

// Options configure a Builder.
type Options struct {
	ChainID  *big.Int
	GasLimit uint64
	Defaults Fees
	Airdrop  AirdropPolicy
	FeeTTL   time.Duration
}

// Builder composes unsigned transactions from requests.
type Builder struct {
	client   chain.Client
	accounts Accounts
	nonces   NonceSource
	opts     Options
	fees     *cache.Cache
	log      *zap.Logger
}

// New creates a Builder.
func New(client chain.Client, accounts Accounts, nonces NonceSource, opts Options, log *zap.Logger) *Builder {
	if opts.GasLimit == 0 {
		opts.GasLimit = params.TxGas
	}
	if opts.FeeTTL <= 0 {
		opts.FeeTTL = defaultFeeTTL
	}
	return &Builder{
		client:   client,
		accounts: accounts,
		nonces:   nonces,
		opts:     opts,
		fees:     cache.New(opts.FeeTTL, 2*opts.FeeTTL),
		log:      logger.OrNop(log),
	}
}

func (b *Builder) senderLabel(req Request) string {
	if req.Intent == AirdropDistribution {
		return b.opts.Airdrop.Faucet
	}
	return req.From
}

// Sender resolves the wallet a request will be signed by.
func (b *Builder) Sender(req Request) (keystore.Account, error) {
	return b.accounts.ByLabel(b.senderLabel(req))
}

// Build validates req, prices it and assigns a nonce. Every check that
// needs no network runs before the first RPC.
func (b *Builder) Build(ctx context.Context, req Request) (*UnsignedTransaction, error) {
	value, err := b.value(req)
	if err != nil {
		return nil, err
	}

	from, err := b.Sender(req)
	if err != nil {
		return nil, err
	}
	label := from.Label
	if from.Address == req.To {
		return nil, fmt.Errorf("%w: %s", ErrSelfTransfer, req.To.Hex())
	}

	utx := &UnsignedTransaction{
		Intent:    req.Intent,
		FromLabel: label,
		From:      from.Address,
		To:        req.To,
		Value:     value,
		GasLimit:  b.opts.GasLimit,
		ChainID:   b.opts.ChainID,
	}
	if req.Fees.GasLimit != 0 {
		utx.GasLimit = req.Fees.GasLimit
	}
	if utx.GasLimit < params.TxGas {
		return nil, fmt.Errorf("%w: gas limit %d below %d", ErrInvalidFees, utx.GasLimit, params.TxGas)
	}

	if err := b.price(ctx, utx, req.Fees); err != nil {
		return nil, err
	}

	balance, err := b.client.BalanceAt(ctx, from.Address)
	if err != nil {
		return nil, err
	}
	if cost := utx.MaxCost(); balance.Cmp(cost) < 0 {
		return nil, fmt.Errorf("%w: %s has %s ETH, needs %s ETH", ErrInsufficientFunds,
			from.Address.Hex(), units.FormatEther(balance), units.FormatEther(cost))
	}

	utx.Nonce, err = b.nonces.Next(ctx, from.Address)
	if err != nil {
		return nil, err
	}

	b.log.Debug("Built transaction",
		zap.Stringer("intent", req.Intent),
		zap.String("label", label),
		zap.Stringer("to", req.To),
		zap.Uint64("nonce", utx.Nonce),
		zap.Bool("dynamic", utx.Dynamic()))
	return utx, nil
}

func (b *Builder) value(req Request) (*big.Int, error) {
	value := req.Value
	switch req.Intent {
	case Transfer:
		if value == nil {
			return nil, fmt.Errorf("%w: transfer needs a value", ErrInvalidValue)
		}
	case AirdropDistribution:
		if value == nil {
			value = b.opts.Airdrop.Amount
		}
		if value == nil {
			return nil, fmt.Errorf("%w: no airdrop amount configured", ErrInvalidValue)
		}
		if limit := b.opts.Airdrop.MaxPerRecipient; limit != nil && value.Cmp(limit) > 0 {
			return nil, fmt.Errorf("%w: %s ETH > %s ETH", ErrAirdropCapExceeded,
				units.FormatEther(value), units.FormatEther(limit))
		}
	default:
		return nil, fmt.Errorf("unsupported intent %s", req.Intent)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, value)
	}
	if !units.FitsUint256(value) {
		return nil, fmt.Errorf("%w: does not fit in 256 bits", ErrInvalidValue)
	}
	return new(big.Int).Set(value), nil
}

// price fills the fee fields of utx from the request override, the
// configured defaults or the node, in that order.
func (b *Builder) price(ctx context.Context, utx *UnsignedTransaction, override Fees) error {
	fees := b.opts.Defaults
	if override.priced() {
		fees = override
	}

	if fees.GasPrice != nil {
		if fees.GasPrice.Sign() <= 0 {
			return fmt.Errorf("%w: gas price must be positive", ErrInvalidFees)
		}
		utx.GasPrice = new(big.Int).Set(fees.GasPrice)
		return nil
	}

	if fees.TipCap != nil && fees.FeeCap != nil {
		return setDynamic(utx, fees.TipCap, fees.FeeCap)
	}

	est, err := b.estimate(ctx)
	if err != nil {
		return err
	}
	if est.BaseFee == nil {
		if fees.TipCap != nil || fees.FeeCap != nil {
			return fmt.Errorf("%w: chain has no base fee, use a gas price", ErrInvalidFees)
		}
		utx.GasPrice = new(big.Int).Set(est.GasPrice)
		return nil
	}

	tip := fees.TipCap
	if tip == nil {
		tip = est.TipCap
		if fees.FeeCap != nil && tip.Cmp(fees.FeeCap) > 0 {
			tip = fees.FeeCap
		}
	}
	feeCap := fees.FeeCap
	if feeCap == nil {
		feeCap = new(big.Int).Mul(est.BaseFee, big.NewInt(baseFeeMultiplier))
		feeCap.Add(feeCap, tip)
	}
	return setDynamic(utx, tip, feeCap)
}

func setDynamic(utx *UnsignedTransaction, tip, feeCap *big.Int) error {
	if tip.Sign() < 0 || feeCap.Sign() <= 0 {
		return fmt.Errorf("%w: tip and fee cap must be positive", ErrInvalidFees)
	}
	if tip.Cmp(feeCap) > 0 {
		return fmt.Errorf("%w: tip cap %s above fee cap %s", ErrInvalidFees, tip, feeCap)
	}
	utx.GasTipCap = new(big.Int).Set(tip)
	utx.GasFeeCap = new(big.Int).Set(feeCap)
	return nil
}

func (b *Builder) estimate(ctx context.Context) (*chain.FeeEstimate, error) {
	if v, ok := b.fees.Get(feeCacheKey); ok {
		return v.(*chain.FeeEstimate), nil
	}
	est, err := b.client.EstimateFee(ctx)
	if err != nil {
		return nil, err
	}
	b.fees.SetDefault(feeCacheKey, est)
	return est, nil
}
