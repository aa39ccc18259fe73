package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
network:
  name: custom
  rpc_url: http://127.0.0.1:8545
  chain_id: 1337
airdrop:
  faucet: bank
  amount: "0.02"
  max_per_recipient: "0.1"
pipeline:
  poll_interval: 250ms
  confirm_timeout: 5s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8545", cfg.Network.RPCURL)
	assert.Equal(t, int64(1337), cfg.Network.ChainID)
	assert.Equal(t, "bank", cfg.Airdrop.Faucet)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.ConfirmTimeout)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, uint64(21000), cfg.Gas.Limit)
	assert.Equal(t, "local", cfg.Lock.Backend)

	amount, err := cfg.Airdrop.AmountWei()
	require.NoError(t, err)
	assert.Equal(t, "20000000000000000", amount.String())
}

func TestLoadConfigInfuraPreset(t *testing.T) {
	t.Setenv("INFURA_API_KEY", "abc123")
	path := writeConfig(t, "network:\n  name: sepolia\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://sepolia.infura.io/v3/abc123", cfg.Network.RPCURL)
	assert.Equal(t, int64(11155111), cfg.Network.ChainID)
	assert.Equal(t, "https://sepolia.etherscan.io", cfg.Network.ExplorerURL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ETHWALLET_NETWORK_RPC_URL", "http://node:8545")
	t.Setenv("ETHWALLET_NETWORK_CHAIN_ID", "31337")
	t.Setenv("ETHWALLET_GAS_PRICE_GWEI", "3")
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.Network.RPCURL)
	assert.Equal(t, int64(31337), cfg.Network.ChainID)

	prices, err := cfg.Gas.Prices()
	require.NoError(t, err)
	assert.Equal(t, "3000000000", prices.Price.String())
	assert.Nil(t, prices.TipCap)
}

func TestValidate(t *testing.T) {
	base := Config{
		Network:    NetworkConfig{RPCURL: "http://x", ChainID: 1},
		Gas:        GasConfig{Limit: 21000},
		Airdrop:    AirdropConfig{Amount: "0.01", MaxPerRecipient: "0.05"},
		Pipeline:   PipelineConfig{MaxAttempts: 1, PollInterval: time.Second, ConfirmTimeout: time.Second},
		Lock:       LockConfig{Backend: "local"},
		Passphrase: PassphraseConfig{Source: "env"},
	}
	require.NoError(t, base.Validate())
	require.NoError(t, base.Network.Validate())

	assert.Error(t, NetworkConfig{ChainID: 1}.Validate(), "no rpc")
	assert.Error(t, NetworkConfig{RPCURL: "http://x"}.Validate(), "zero chain")
	// Offline commands load without a node.
	offline := base
	offline.Network = NetworkConfig{}
	assert.NoError(t, offline.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"amount above cap", func(c *Config) { c.Airdrop.Amount = "1" }},
		{"bad gas price", func(c *Config) { c.Gas.PriceGwei = "cheap" }},
		{"no attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.Pipeline.ConfirmTimeout = 0 }},
		{"lock backend", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"passphrase source", func(c *Config) { c.Passphrase.Source = "stdin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
