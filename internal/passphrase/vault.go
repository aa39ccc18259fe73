package passphrase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/config"
	"github.com/xueqianLu/ethwallet/internal/logger"
)

const (
	vaultField        = "passphrase"
	generatedPassSize = 32
)

// NewVaultClient creates a Vault client from cfg, falling back to the
// standard VAULT_* environment variables.
func NewVaultClient(cfg config.VaultConfig, log *zap.Logger) (*api.Client, error) {
	log = logger.OrNop(log)
	vaultConfig := api.DefaultConfig()
	if err := vaultConfig.ReadEnvironment(); err != nil {
		log.Warn("Could not read Vault environment variables", zap.Error(err))
	}
	if cfg.Address != "" {
		vaultConfig.Address = cfg.Address
	}
	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}

// Vault keeps one passphrase per wallet in a KV version 2 engine at
// <mount>/data/<prefix>/<label>, field "passphrase". New wallets get a
// random passphrase that never touches the terminal.
type Vault struct {
	client *api.Client
	mount  string
	prefix string
	log    *zap.Logger
}

// NewVault returns a Vault source.
func NewVault(client *api.Client, mount, prefix string, log *zap.Logger) *Vault {
	return &Vault{
		client: client,
		mount:  strings.Trim(mount, "/"),
		prefix: strings.Trim(prefix, "/"),
		log:    logger.OrNop(log),
	}
}

func (v *Vault) path(label string) string {
	if v.prefix == "" {
		return fmt.Sprintf("%s/data/%s", v.mount, label)
	}
	return fmt.Sprintf("%s/data/%s/%s", v.mount, v.prefix, label)
}

func (v *Vault) Passphrase(ctx context.Context, label string) (string, error) {
	path := v.path(label)
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s from vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: vault path %s", ErrNotFound, path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: vault path %s has no data (deleted version?)", ErrNotFound, path)
	}
	pass, ok := data[vaultField].(string)
	if !ok || pass == "" {
		return "", fmt.Errorf("%w: vault path %s has no %q field", ErrNotFound, path, vaultField)
	}
	return pass, nil
}

// NewPassphrase generates a random passphrase. Nothing is stored until
// Commit, which callers run before writing the wallet file so a wallet
// never exists without its passphrase.
func (v *Vault) NewPassphrase(_ context.Context, _ string) (string, error) {
	b := make([]byte, generatedPassSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Commit stores passphrase for label. The write is check-and-set against
// version 0, so it fails with ErrExists if the label already has one.
func (v *Vault) Commit(ctx context.Context, label, passphrase string) error {
	path := v.path(label)
	_, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"options": map[string]interface{}{"cas": 0},
		"data":    map[string]interface{}{vaultField: passphrase},
	})
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.Join(respErr.Errors, " "), "check-and-set") {
			return fmt.Errorf("%w: vault path %s", ErrExists, path)
		}
		return fmt.Errorf("failed to write %s to vault: %w", path, err)
	}
	v.log.Info("Stored wallet passphrase in vault", zap.String("label", label), zap.String("path", path))
	return nil
}
