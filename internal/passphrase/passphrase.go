// Package passphrase supplies wallet passphrases from a terminal prompt,
// the environment or Vault.
package passphrase

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("passphrase not found")
	ErrMismatch = errors.New("passphrases do not match")
	ErrEmpty    = errors.New("passphrase must not be empty")
	ErrExists   = errors.New("passphrase already stored")
)

// Source obtains passphrases for wallet labels.
type Source interface {
	// Passphrase returns the passphrase of an existing wallet.
	Passphrase(ctx context.Context, label string) (string, error)
	// NewPassphrase returns the passphrase for a wallet about to be created.
	NewPassphrase(ctx context.Context, label string) (string, error)
}

// Committer is implemented by sources that persist new passphrases
// themselves. Commit runs before the wallet file is written.
type Committer interface {
	Commit(ctx context.Context, label, passphrase string) error
}
