// Package query looks up transactions on chain for inspection. It never
// writes to the ledger.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/chain"
	"github.com/xueqianLu/ethwallet/internal/ledger"
	"github.com/xueqianLu/ethwallet/internal/logger"
)

// ErrNotFound means neither the node nor the ledger knows the hash.
var ErrNotFound = errors.New("transaction not found")

// RecordReader is the read side of the ledger.
type RecordReader interface {
	Get(hash common.Hash) (*ledger.Record, error)
}

// ReceiptView is the decoded receipt of a mined transaction.
type ReceiptView struct {
	Status            uint64
	BlockNumber       uint64
	BlockHash         common.Hash
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	LogCount          int
	ContractAddress   *common.Address
}

// TransactionView is what Lookup returns. Status follows the ledger's
// status model; Local is a copy of the ledger record when this wallet sent
// the transaction.
type TransactionView struct {
	Hash      common.Hash
	Type      uint8
	From      common.Address
	To        *common.Address
	Value     *big.Int
	Nonce     uint64
	GasLimit  uint64
	GasPrice  *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	ChainID   *big.Int

	Pending       bool
	Receipt       *ReceiptView
	Confirmations uint64
	Status        ledger.Status

	Local *ledger.Record
}

// Service answers lookups.
type Service struct {
	client chain.Client
	ledger RecordReader
	log    *zap.Logger
}

// New creates a Service. records may be nil.
func New(client chain.Client, records RecordReader, log *zap.Logger) *Service {
	return &Service{client: client, ledger: records, log: logger.OrNop(log)}
}

// Lookup fetches hash from the node and decodes it. A hash only the ledger
// knows (e.g. dropped from the pool) is returned from the ledger copy.
func (s *Service) Lookup(ctx context.Context, hash common.Hash) (*TransactionView, error) {
	local := s.localRecord(hash)

	tx, pending, err := s.client.Transaction(ctx, hash)
	if errors.Is(err, chain.ErrNotFound) {
		if local == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash.Hex())
		}
		return viewFromRecord(local), nil
	}
	if err != nil {
		return nil, err
	}

	view, err := s.decode(ctx, tx)
	if err != nil {
		return nil, err
	}
	view.Pending = pending
	view.Local = local
	view.Status = ledger.StatusPending

	if !pending {
		receipt, err := s.client.Receipt(ctx, hash)
		switch {
		case err == nil:
			view.Receipt = decodeReceipt(receipt)
			view.Status = ledger.StatusConfirmed
			if receipt.Status != types.ReceiptStatusSuccessful {
				view.Status = ledger.StatusFailed
			}
			if head, herr := s.client.BlockNumber(ctx); herr == nil && head >= view.Receipt.BlockNumber {
				view.Confirmations = head - view.Receipt.BlockNumber + 1
			}
		case errors.Is(err, chain.ErrNotFound):
		default:
			return nil, err
		}
	}
	return view, nil
}

func (s *Service) localRecord(hash common.Hash) *ledger.Record {
	if s.ledger == nil {
		return nil
	}
	rec, err := s.ledger.Get(hash)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			s.log.Warn("Failed to read ledger", zap.Stringer("hash", hash), zap.Error(err))
		}
		return nil
	}
	return rec.Clone()
}

func (s *Service) decode(ctx context.Context, tx *types.Transaction) (*TransactionView, error) {
	chainID := tx.ChainId()
	if chainID == nil || chainID.Sign() == 0 {
		// Pre-EIP-155 legacy transaction.
		var err error
		if chainID, err = s.client.ChainID(ctx); err != nil {
			return nil, err
		}
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		from, err = types.Sender(types.HomesteadSigner{}, tx)
		if err != nil {
			return nil, fmt.Errorf("failed to recover sender of %s: %w", tx.Hash().Hex(), err)
		}
	}
	view := &TransactionView{
		Hash:     tx.Hash(),
		Type:     tx.Type(),
		From:     from,
		To:       tx.To(),
		Value:    tx.Value(),
		Nonce:    tx.Nonce(),
		GasLimit: tx.Gas(),
		GasPrice: tx.GasPrice(),
		ChainID:  chainID,
	}
	if tx.Type() != types.LegacyTxType && tx.Type() != types.AccessListTxType {
		view.GasTipCap = tx.GasTipCap()
		view.GasFeeCap = tx.GasFeeCap()
	}
	return view, nil
}

func decodeReceipt(r *types.Receipt) *ReceiptView {
	v := &ReceiptView{
		Status:            r.Status,
		BlockHash:         r.BlockHash,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
		LogCount:          len(r.Logs),
	}
	if r.BlockNumber != nil {
		v.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.ContractAddress != (common.Address{}) {
		addr := r.ContractAddress
		v.ContractAddress = &addr
	}
	return v
}

func viewFromRecord(r *ledger.Record) *TransactionView {
	to := r.To
	return &TransactionView{
		Hash:    r.Hash,
		From:    r.From,
		To:      &to,
		Value:   r.Value,
		Nonce:   r.Nonce,
		ChainID: r.ChainID,
		Status:  r.Status,
		Local:   r,
	}
}
