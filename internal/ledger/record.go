package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Status is the pipeline's view of a submitted transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	// StatusDropped means polling gave up without a receipt. The
	// transaction may still be mined.
	StatusDropped Status = "dropped"
)

// Final reports whether the status can no longer change.
func (s Status) Final() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Record is a SubmittedTransaction. Records are only ever added or updated.
type Record struct {
	Hash      common.Hash    `json:"hash"`
	Intent    string         `json:"intent"`
	FromLabel string         `json:"from_label"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Value     *big.Int       `json:"value"`
	Nonce     uint64         `json:"nonce"`
	ChainID   *big.Int       `json:"chain_id"`
	RawTx     hexutil.Bytes  `json:"raw_tx,omitempty"`

	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`

	SubmittedAt       time.Time `json:"submitted_at"`
	LastCheckedAt     time.Time `json:"last_checked_at,omitzero"`
	BroadcastAttempts int       `json:"broadcast_attempts"`
	// AttemptCount counts receipt checks made while awaiting confirmation.
	AttemptCount int `json:"attempt_count"`

	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Value != nil {
		c.Value = new(big.Int).Set(r.Value)
	}
	if r.ChainID != nil {
		c.ChainID = new(big.Int).Set(r.ChainID)
	}
	if r.RawTx != nil {
		c.RawTx = append(hexutil.Bytes(nil), r.RawTx...)
	}
	return &c
}
