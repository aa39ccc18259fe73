// Package nonce serialises nonce assignment per sender address.
package nonce

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Locker provides per-address mutual exclusion. Lock blocks until the lock
// is held or ctx is done; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, addr common.Address) (func(), error)
}

// LocalLocker is an in-process Locker. One buffered channel per address
// acts as a binary semaphore so waiting honours context cancellation.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[common.Address]chan struct{})}
}

func (l *LocalLocker) slot(addr common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[addr]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[addr] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, addr common.Address) (func(), error) {
	ch := l.slot(addr)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
