// Package registry indexes keystore wallets by label and by address.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xueqianLu/ethwallet/internal/keystore"
)

// ErrUnknownAccount is returned when a label or address is not in the keystore.
var ErrUnknownAccount = errors.New("unknown account")

// Lister is the part of the keystore the registry is built from.
type Lister interface {
	List() ([]keystore.Account, error)
}

// Registry is a read-through index over the keystore. It holds no state of
// its own beyond what Reload copies from the keystore.
type Registry struct {
	source Lister

	mu        sync.RWMutex
	byLabel   map[string]keystore.Account
	byAddress map[common.Address]keystore.Account
}

// New builds a registry from source.
func New(source Lister) (*Registry, error) {
	r := &Registry{source: source}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds both indexes from the keystore.
func (r *Registry) Reload() error {
	accounts, err := r.source.List()
	if err != nil {
		return fmt.Errorf("failed to list wallets: %w", err)
	}

	byLabel := make(map[string]keystore.Account, len(accounts))
	byAddress := make(map[common.Address]keystore.Account, len(accounts))
	for _, a := range accounts {
		byLabel[a.Label] = a
		byAddress[a.Address] = a
	}

	r.mu.Lock()
	r.byLabel, r.byAddress = byLabel, byAddress
	r.mu.Unlock()
	return nil
}

// ByLabel returns the account stored under label.
func (r *Registry) ByLabel(label string) (keystore.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byLabel[label]
	if !ok {
		return keystore.Account{}, fmt.Errorf("%w: label %s", ErrUnknownAccount, label)
	}
	return a, nil
}

// ByAddress returns the account whose key derives addr.
func (r *Registry) ByAddress(addr common.Address) (keystore.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byAddress[addr]
	if !ok {
		return keystore.Account{}, fmt.Errorf("%w: address %s", ErrUnknownAccount, addr.Hex())
	}
	return a, nil
}

// Resolve accepts a wallet label or a hex address. A hex address that is not
// a local wallet resolves to an Account with an empty label, which is what
// recipients look like.
func (r *Registry) Resolve(labelOrAddress string) (keystore.Account, error) {
	s := strings.TrimSpace(labelOrAddress)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if !common.IsHexAddress(s) {
			return keystore.Account{}, fmt.Errorf("%w: malformed address %q", ErrUnknownAccount, s)
		}
		addr := common.HexToAddress(s)
		if a, err := r.ByAddress(addr); err == nil {
			return a, nil
		}
		return keystore.Account{Address: addr}, nil
	}
	return r.ByLabel(s)
}

// Accounts returns every indexed account sorted by label.
func (r *Registry) Accounts() []keystore.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]keystore.Account, 0, len(r.byLabel))
	for _, a := range r.byLabel {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Len returns the number of wallets indexed.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLabel)
}
