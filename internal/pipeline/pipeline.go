// Package pipeline signs, broadcasts and tracks transactions:
//
//	Built -> Signed -> Broadcast -> Confirmed | Failed | Dropped
//
// Submit covers everything up to Broadcast while holding the sender's nonce
// lock. Await polls for the receipt without holding any lock, so several
// transactions can be awaited at once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/chain"
	"github.com/xueqianLu/ethwallet/internal/config"
	"github.com/xueqianLu/ethwallet/internal/keystore"
	"github.com/xueqianLu/ethwallet/internal/ledger"
	"github.com/xueqianLu/ethwallet/internal/logger"
	"github.com/xueqianLu/ethwallet/internal/metrics"
	"github.com/xueqianLu/ethwallet/internal/nonce"
	"github.com/xueqianLu/ethwallet/internal/txbuilder"
)

// ErrTimeout means no receipt arrived before the confirmation timeout. The
// outcome is unknown: the transaction may still be mined.
var ErrTimeout = errors.New("confirmation timed out")

// Signer is the keystore's scoped unlock.
type Signer interface {
	WithKey(label, passphrase string, fn func(*keystore.UnlockedKey) error) error
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Client  chain.Client
	Builder *txbuilder.Builder
	Keys    Signer
	Locker  nonce.Locker
	Nonces  *nonce.Manager
	Ledger  *ledger.Ledger
	Metrics *metrics.Pipeline
}

// Pipeline moves transactions through their lifecycle.
type Pipeline struct {
	Deps
	cfg config.PipelineConfig
	log *zap.Logger
	now func() time.Time
}

// New creates a Pipeline. A nil Metrics gets a private registry.
func New(deps Deps, cfg config.PipelineConfig, log *zap.Logger) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewPipeline()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Pipeline{Deps: deps, cfg: cfg, log: logger.OrNop(log), now: time.Now}
}

// Submit builds, signs and broadcasts req. On success the returned record
// is Pending and already durable in the ledger.
//
// A node rejection is recorded as Failed and returned as *chain.RejectedError
// together with the record. If every broadcast attempt fails with the chain
// unavailable, nothing is recorded and the error wraps
// chain.ErrChainUnavailable.
func (p *Pipeline) Submit(ctx context.Context, req txbuilder.Request, passphrase string) (*ledger.Record, error) {
	sender, err := p.Builder.Sender(req)
	if err != nil {
		return nil, err
	}

	unlock, err := p.Locker.Lock(ctx, sender.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to lock nonce for %s: %w", sender.Address.Hex(), err)
	}
	defer unlock()

	utx, err := p.Builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	log := p.log.With(
		zap.Stringer("intent", utx.Intent),
		zap.String("label", utx.FromLabel),
		zap.Stringer("address", utx.From),
		zap.Uint64("nonce", utx.Nonce))
	log.Debug("Transaction built", zap.Stringer("to", utx.To), zap.Stringer("value", utx.Value))

	signed, err := p.sign(utx, passphrase)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.Stringer("hash", signed.Hash()))
	log.Debug("Transaction signed")

	attempts, err := p.broadcast(ctx, signed, log)
	p.Metrics.BroadcastAttempts.Observe(float64(attempts))

	var rejected *chain.RejectedError
	switch {
	case errors.As(err, &rejected):
		rec := p.newRecord(utx, signed, attempts)
		rec.Status = ledger.StatusFailed
		rec.Reason = rejected.Reason
		if perr := p.Ledger.Put(rec); perr != nil {
			log.Error("Failed to record rejected transaction", zap.Error(perr))
		}
		p.Metrics.Terminal.WithLabelValues(string(ledger.StatusFailed)).Inc()
		log.Warn("Transaction rejected", zap.String("reason", rejected.Reason))
		return rec, fmt.Errorf("transaction %s from %s: %w", signed.Hash().Hex(), utx.From.Hex(), err)
	case err != nil:
		return nil, fmt.Errorf("broadcast of %s from %s after %d attempts: %w", signed.Hash().Hex(), utx.From.Hex(), attempts, err)
	}

	rec := p.newRecord(utx, signed, attempts)
	rec.Status = ledger.StatusPending
	stored, err := p.recordBroadcast(rec)
	if err != nil {
		// The node has it; keep the nonce so the next send does not collide.
		p.Nonces.Commit(utx.From, utx.Nonce)
		return rec, fmt.Errorf("transaction %s was broadcast but could not be recorded: %w", signed.Hash().Hex(), err)
	}
	rec = stored
	p.Nonces.Commit(utx.From, utx.Nonce)
	p.Metrics.Submitted.WithLabelValues(utx.Intent.String()).Inc()
	log.Info("Transaction broadcast", zap.Int("attempts", attempts))
	return rec, nil
}

func (p *Pipeline) sign(utx *txbuilder.UnsignedTransaction, passphrase string) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(utx.ChainID)
	var signed *types.Transaction
	err := p.Keys.WithKey(utx.FromLabel, passphrase, func(key *keystore.UnlockedKey) error {
		if key.Address() != utx.From {
			return fmt.Errorf("wallet %s unlocked %s, expected %s", utx.FromLabel, key.Address().Hex(), utx.From.Hex())
		}
		var err error
		signed, err = key.SignTx(utx.Tx(), signer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// broadcast submits tx with bounded exponential backoff. Only
// chain.ErrChainUnavailable is retried; "already known" counts as success.
func (p *Pipeline) broadcast(ctx context.Context, tx *types.Transaction, log *zap.Logger) (int, error) {
	policy := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		policy.InitialInterval = p.cfg.InitialBackoff
	}
	if p.cfg.MaxBackoff > 0 {
		policy.MaxInterval = p.cfg.MaxBackoff
	}
	policy.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		err := p.Client.Broadcast(ctx, tx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, chain.ErrAlreadyKnown):
			log.Info("Node already knows transaction")
			return nil
		case errors.Is(err, chain.ErrChainUnavailable):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Broadcast failed, retrying", zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.cfg.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, bo, notify)
	return attempts, err
}

// recordBroadcast stores a freshly broadcast record. Signing is
// deterministic, so an identical transaction may already be recorded from an
// earlier rejected or dropped attempt; that record is moved back to Pending.
func (p *Pipeline) recordBroadcast(rec *ledger.Record) (*ledger.Record, error) {
	err := p.Ledger.Put(rec)
	if !errors.Is(err, ledger.ErrExists) {
		return rec, err
	}
	return p.Ledger.Update(rec.Hash, func(r *ledger.Record) error {
		if r.Status == ledger.StatusConfirmed {
			return nil
		}
		r.Status = ledger.StatusPending
		r.Reason = ""
		r.BroadcastAttempts += rec.BroadcastAttempts
		r.SubmittedAt = rec.SubmittedAt
		r.BlockNumber, r.GasUsed = 0, 0
		return nil
	})
}

func (p *Pipeline) newRecord(utx *txbuilder.UnsignedTransaction, signed *types.Transaction, attempts int) *ledger.Record {
	raw, _ := signed.MarshalBinary()
	return &ledger.Record{
		Hash:              signed.Hash(),
		Intent:            utx.Intent.String(),
		FromLabel:         utx.FromLabel,
		From:              utx.From,
		To:                utx.To,
		Value:             utx.Value,
		Nonce:             utx.Nonce,
		ChainID:           utx.ChainID,
		RawTx:             raw,
		SubmittedAt:       p.now().UTC(),
		BroadcastAttempts: attempts,
	}
}

// Await polls for the receipt of a recorded transaction every poll
// interval until the confirmation timeout. The record ends Confirmed or
// Failed when a receipt arrives; on timeout it becomes Dropped and
// ErrTimeout is returned. If ctx is cancelled first the record is left as
// it was and ctx's error is returned.
func (p *Pipeline) Await(ctx context.Context, hash common.Hash) (*ledger.Record, error) {
	rec, err := p.Ledger.Get(hash)
	if err != nil {
		return nil, err
	}
	if rec.Status.Final() {
		return rec, nil
	}

	log := p.log.With(zap.Stringer("hash", hash))
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.Client.Receipt(pollCtx, hash)
		switch {
		case err == nil:
			return p.settle(rec, receipt, log)
		case errors.Is(err, chain.ErrNotFound), errors.Is(err, chain.ErrChainUnavailable):
			if rec, err = p.touch(hash); err != nil {
				return nil, err
			}
			log.Debug("No receipt yet", zap.Int("attempt", rec.AttemptCount))
		case pollCtx.Err() != nil:
			// Deadline hit mid-call; the select below decides.
		default:
			return rec, fmt.Errorf("failed to poll receipt of %s: %w", hash.Hex(), err)
		}

		select {
		case <-ticker.C:
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				log.Info("Stopped awaiting transaction", zap.Error(err))
				return rec, err
			}
			return p.drop(hash, log)
		}
	}
}

func (p *Pipeline) touch(hash common.Hash) (*ledger.Record, error) {
	return p.Ledger.Update(hash, func(r *ledger.Record) error {
		r.LastCheckedAt = p.now().UTC()
		r.AttemptCount++
		return nil
	})
}

func (p *Pipeline) settle(rec *ledger.Record, receipt *types.Receipt, log *zap.Logger) (*ledger.Record, error) {
	status := ledger.StatusConfirmed
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = ledger.StatusFailed
	}
	submitted := rec.SubmittedAt
	rec, err := p.Ledger.Update(rec.Hash, func(r *ledger.Record) error {
		r.Status = status
		r.LastCheckedAt = p.now().UTC()
		r.AttemptCount++
		if receipt.BlockNumber != nil {
			r.BlockNumber = receipt.BlockNumber.Uint64()
		}
		r.GasUsed = receipt.GasUsed
		if status == ledger.StatusFailed {
			r.Reason = "execution reverted"
		} else {
			r.Reason = ""
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.Metrics.Terminal.WithLabelValues(string(status)).Inc()
	p.Metrics.ConfirmSeconds.Observe(p.now().Sub(submitted).Seconds())
	log.Info("Transaction mined", zap.String("status", string(status)), zap.Uint64("block", rec.BlockNumber))
	return rec, nil
}

func (p *Pipeline) drop(hash common.Hash, log *zap.Logger) (*ledger.Record, error) {
	rec, err := p.Ledger.Update(hash, func(r *ledger.Record) error {
		r.Status = ledger.StatusDropped
		r.Reason = fmt.Sprintf("no receipt within %s", p.cfg.ConfirmTimeout)
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.Metrics.Terminal.WithLabelValues(string(ledger.StatusDropped)).Inc()
	log.Warn("Gave up waiting for receipt", zap.Duration("timeout", p.cfg.ConfirmTimeout))
	return rec, fmt.Errorf("%w: %s after %s", ErrTimeout, hash.Hex(), p.cfg.ConfirmTimeout)
}

// Send submits req and awaits its outcome.
func (p *Pipeline) Send(ctx context.Context, req txbuilder.Request, passphrase string) (*ledger.Record, error) {
	rec, err := p.Submit(ctx, req, passphrase)
	if err != nil {
		return rec, err
	}
	return p.Await(ctx, rec.Hash)
}
