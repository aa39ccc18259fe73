package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/logger"
)

var (
	ErrDuplicateLabel    = errors.New("wallet label already exists")
	ErrNotFound          = errors.New("wallet not found")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrInvalidLabel      = errors.New("invalid wallet label")
	ErrEmptyPassphrase   = errors.New("passphrase must not be empty")
	ErrAddressMismatch   = errors.New("decrypted key does not match stored address")
)

const (
	fileVersion = 1
	fileExt     = ".json"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Account is the public part of a wallet.
type Account struct {
	Label   string
	Address common.Address
}

// Wallet is a persisted wallet record. It never holds a decrypted key.
type Wallet struct {
	ID        string
	Label     string
	Address   common.Address
	CreatedAt time.Time

	sealed cryptoJSON
}

// Account returns the label/address pair of w.
func (w *Wallet) Account() Account {
	return Account{Label: w.Label, Address: w.Address}
}

type walletJSON struct {
	Version   int        `json:"version"`
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"created_at"`
	Crypto    cryptoJSON `json:"crypto"`
}

// Keystore manages sealed wallet files in a directory, one file per label.
type Keystore struct {
	dir    string
	params KDFParams
	log    *zap.Logger

	mu sync.Mutex // serialises Create
}

// New creates a Keystore rooted at dir, creating the directory if needed.
func New(dir string, params KDFParams, log *zap.Logger) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	if params.Time == 0 {
		params.Time = StandardKDF.Time
	}
	if params.Memory == 0 {
		params.Memory = StandardKDF.Memory
	}
	if params.Threads == 0 {
		params.Threads = 1
	}
	return &Keystore{dir: dir, params: params, log: logger.OrNop(log)}, nil
}

// Dir returns the keystore directory.
func (ks *Keystore) Dir() string { return ks.dir }

func (ks *Keystore) path(label string) string {
	return filepath.Join(ks.dir, label+fileExt)
}

func additionalData(label string, address common.Address) []byte {
	return []byte(label + "|" + strings.ToLower(address.Hex()))
}

// ValidateLabel reports whether label can name a wallet.
func ValidateLabel(label string) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

// Create generates a new key pair, seals the private key under passphrase
// and persists the wallet as <label>.json.
func (ks *Keystore) Create(label, passphrase string) (*Wallet, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	defer zeroKey(privateKey)
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	keyBytes := crypto.FromECDSA(privateKey)
	defer zeroBytes(keyBytes)
	pass := []byte(passphrase)
	defer zeroBytes(pass)

	sealed, err := seal(keyBytes, pass, additionalData(label, address), ks.params)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	w := &Wallet{
		ID:        uuid.NewString(),
		Label:     label,
		Address:   address,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		sealed:    *sealed,
	}
	data, err := json.MarshalIndent(w.toJSON(), "", "  ")
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(ks.path(label), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLabel, label)
		}
		return nil, fmt.Errorf("failed to create wallet file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(ks.path(label))
		return nil, fmt.Errorf("failed to save wallet %s: %w", label, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(ks.path(label))
		return nil, fmt.Errorf("failed to save wallet %s: %w", label, err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to save wallet %s: %w", label, err)
	}

	ks.log.Info("Created wallet", zap.String("label", label), zap.Stringer("address", address))
	return w, nil
}

// Get loads the wallet record for label without decrypting it.
func (ks *Keystore) Get(label string) (*Wallet, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ks.path(label))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, label)
		}
		return nil, fmt.Errorf("failed to read wallet %s: %w", label, err)
	}
	w, err := decodeWallet(data)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", label, err)
	}
	if w.Label != label {
		return nil, fmt.Errorf("wallet file %s holds label %q", ks.path(label), w.Label)
	}
	return w, nil
}

// List returns the label/address pairs of every wallet, sorted by label.
// No decryption happens.
func (ks *Keystore) List() ([]Account, error) {
	entries, err := os.ReadDir(ks.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore directory: %w", err)
	}

	var accounts []Account
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		label := strings.TrimSuffix(entry.Name(), fileExt)
		w, err := ks.Get(label)
		if err != nil {
			ks.log.Warn("Skipping unreadable wallet file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		accounts = append(accounts, w.Account())
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Label < accounts[j].Label })
	return accounts, nil
}

// Unlock decrypts the wallet's key into an UnlockedKey. The caller must
// Close it; WithKey does so automatically.
func (ks *Keystore) Unlock(label, passphrase string) (*UnlockedKey, error) {
	w, err := ks.Get(label)
	if err != nil {
		return nil, err
	}

	pass := []byte(passphrase)
	defer zeroBytes(pass)

	plaintext, err := open(&w.sealed, pass, additionalData(w.Label, w.Address))
	if err != nil {
		if errors.Is(err, ErrInvalidPassphrase) {
			return nil, fmt.Errorf("%w for wallet %s", ErrInvalidPassphrase, label)
		}
		return nil, fmt.Errorf("failed to decrypt wallet %s: %w", label, err)
	}
	defer zeroBytes(plaintext)

	privateKey, err := crypto.ToECDSA(plaintext)
	if err != nil {
		return nil, fmt.Errorf("wallet %s holds an invalid key: %w", label, err)
	}
	if derived := crypto.PubkeyToAddress(privateKey.PublicKey); derived != w.Address {
		zeroKey(privateKey)
		return nil, fmt.Errorf("%w: wallet %s has %s, key derives %s", ErrAddressMismatch, label, w.Address.Hex(), derived.Hex())
	}

	ks.log.Debug("Unlocked wallet", zap.String("label", label))
	return &UnlockedKey{label: label, address: w.Address, key: privateKey}, nil
}

// WithKey unlocks label, runs fn, and releases the key on every exit path.
func (ks *Keystore) WithKey(label, passphrase string, fn func(*UnlockedKey) error) error {
	key, err := ks.Unlock(label, passphrase)
	if err != nil {
		return err
	}
	defer key.Close()
	return fn(key)
}

func (w *Wallet) toJSON() *walletJSON {
	return &walletJSON{
		Version:   fileVersion,
		ID:        w.ID,
		Label:     w.Label,
		Address:   w.Address.Hex(),
		CreatedAt: w.CreatedAt,
		Crypto:    w.sealed,
	}
}

func decodeWallet(data []byte) (*Wallet, error) {
	var wj walletJSON
	if err := json.Unmarshal(data, &wj); err != nil {
		return nil, fmt.Errorf("failed to decode wallet file: %w", err)
	}
	if wj.Version != fileVersion {
		return nil, fmt.Errorf("unsupported wallet file version %d", wj.Version)
	}
	if !common.IsHexAddress(wj.Address) {
		return nil, fmt.Errorf("invalid address %q", wj.Address)
	}
	return &Wallet{
		ID:        wj.ID,
		Label:     wj.Label,
		Address:   common.HexToAddress(wj.Address),
		CreatedAt: wj.CreatedAt,
		sealed:    wj.Crypto,
	}, nil
}
