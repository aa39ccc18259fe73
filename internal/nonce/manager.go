package nonce

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/logger"
)

// ChainSource reports the node's pending nonce for an address.
type ChainSource interface {
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
}

// LedgerSource reports the highest nonce of a Pending or Confirmed
// transaction recorded for an address.
type LedgerSource interface {
	HighestNonce(addr common.Address) (uint64, bool, error)
}

// Manager computes the next nonce for an address. It must be called with
// the address locked, and Commit must follow a successful broadcast. Next
// never goes below a nonce this process or the ledger already used, even
// when the node's pending view lags.
type Manager struct {
	chain  ChainSource
	ledger LedgerSource
	log    *zap.Logger

	mu        sync.Mutex
	committed map[common.Address]uint64
}

// NewManager creates a Manager. ledger may be nil.
func NewManager(chain ChainSource, ledger LedgerSource, log *zap.Logger) *Manager {
	return &Manager{
		chain:     chain,
		ledger:    ledger,
		log:       logger.OrNop(log),
		committed: make(map[common.Address]uint64),
	}
}

// Next returns max(chain pending nonce, last committed + 1, ledger highest + 1).
func (m *Manager) Next(ctx context.Context, addr common.Address) (uint64, error) {
	next, err := m.chain.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	if last, ok := m.committed[addr]; ok && last+1 > next {
		next = last + 1
	}
	m.mu.Unlock()

	if m.ledger != nil {
		highest, ok, err := m.ledger.HighestNonce(addr)
		if err != nil {
			return 0, err
		}
		if ok && highest+1 > next {
			m.log.Debug("Node pending nonce behind ledger",
				zap.Stringer("address", addr), zap.Uint64("ledger", highest))
			next = highest + 1
		}
	}
	return next, nil
}

// Commit records that n was broadcast for addr.
func (m *Manager) Commit(addr common.Address, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.committed[addr]; !ok || n > last {
		m.committed[addr] = n
	}
}
