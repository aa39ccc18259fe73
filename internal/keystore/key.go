package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrKeyReleased is returned when an UnlockedKey is used after Close.
var ErrKeyReleased = errors.New("key already released")

// UnlockedKey is a decrypted private key scoped to a single operation. The
// scalar never leaves this type; callers sign through it and must Close it.
type UnlockedKey struct {
	label   string
	address common.Address

	mu  sync.Mutex
	key *ecdsa.PrivateKey
}

// Label returns the wallet label the key was unlocked from.
func (k *UnlockedKey) Label() string { return k.label }

// Address returns the address derived from the key.
func (k *UnlockedKey) Address() common.Address { return k.address }

// SignTx signs tx with the held key.
func (k *UnlockedKey) SignTx(tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key == nil {
		return nil, ErrKeyReleased
	}
	signed, err := types.SignTx(tx, signer, k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Released reports whether Close has run.
func (k *UnlockedKey) Released() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key == nil
}

// Close zeroes the private scalar. It is safe to call more than once.
func (k *UnlockedKey) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key == nil {
		return
	}
	zeroKey(k.key)
	k.key = nil
}

func zeroKey(k *ecdsa.PrivateKey) {
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
}
