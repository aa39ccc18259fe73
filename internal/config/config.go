package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xueqianLu/ethwallet/internal/units"
)

// EnvPrefix is prepended to every environment override, e.g. ETHWALLET_NETWORK_RPC_URL.
const EnvPrefix = "ETHWALLET"

// Config holds the application configuration. It is loaded once at startup
// and handed to components by value.
type Config struct {
	Network    NetworkConfig    `mapstructure:"network"`
	Keystore   KeystoreConfig   `mapstructure:"keystore"`
	Gas        GasConfig        `mapstructure:"gas"`
	Airdrop    AirdropConfig    `mapstructure:"airdrop"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Lock       LockConfig       `mapstructure:"lock"`
	Passphrase PassphraseConfig `mapstructure:"passphrase"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// NetworkConfig holds the RPC endpoint and chain identity.
type NetworkConfig struct {
	Name         string `mapstructure:"name"`
	RPCURL       string `mapstructure:"rpc_url"`
	InfuraAPIKey string `mapstructure:"infura_api_key"`
	ChainID      int64  `mapstructure:"chain_id"`
	ExplorerURL  string `mapstructure:"explorer_url"`
}

// KeystoreConfig holds the wallet directory and the argon2id cost parameters
// used for newly created wallets.
type KeystoreConfig struct {
	Dir        string `mapstructure:"dir"`
	KDFTime    uint32 `mapstructure:"kdf_time"`
	KDFMemory  uint32 `mapstructure:"kdf_memory"` // KiB
	KDFThreads uint8  `mapstructure:"kdf_threads"`
}

// GasConfig holds optional default gas parameters. Prices are gwei strings;
// empty means "ask the node".
type GasConfig struct {
	Limit      uint64 `mapstructure:"limit"`
	PriceGwei  string `mapstructure:"price_gwei"`
	TipCapGwei string `mapstructure:"tip_cap_gwei"`
	FeeCapGwei string `mapstructure:"fee_cap_gwei"`
}

// AirdropConfig describes the faucet policy. Amounts are ether strings.
type AirdropConfig struct {
	Faucet          string `mapstructure:"faucet"`
	Amount          string `mapstructure:"amount"`
	MaxPerRecipient string `mapstructure:"max_per_recipient"`
}

// PipelineConfig holds broadcast retry and confirmation polling settings.
type PipelineConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

// LedgerConfig holds the location of the submitted transaction database.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// LockConfig selects the per-address nonce lock backend.
type LockConfig struct {
	Backend   string        `mapstructure:"backend"` // "local" or "redis"
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PassphraseConfig selects where wallet passphrases come from.
type PassphraseConfig struct {
	Source string `mapstructure:"source"` // "prompt", "env" or "vault"
	EnvVar string `mapstructure:"env_var"`
}

// VaultConfig holds the Vault configuration.
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	KVMount    string `mapstructure:"kv_mount"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

// MetricsConfig holds the optional prometheus textfile destination.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type networkPreset struct {
	chainID  int64
	explorer string
}

var presets = map[string]networkPreset{
	"sepolia": {chainID: 11155111, explorer: "https://sepolia.etherscan.io"},
	"holesky": {chainID: 17000, explorer: "https://holesky.etherscan.io"},
	"mainnet": {chainID: 1, explorer: "https://etherscan.io"},
}

// LoadConfig reads configuration from an optional file, a .env file and
// environment variables. An empty path searches ./config.yaml and
// $HOME/.ethwallet/config.yaml.
func LoadConfig(path string) (config Config, err error) {
	if err = godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, herr := os.UserHomeDir(); herr == nil {
			v.AddConfigPath(filepath.Join(home, ".ethwallet"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// INFURA_API_KEY is accepted unprefixed.
	_ = v.BindEnv("network.infura_api_key", EnvPrefix+"_NETWORK_INFURA_API_KEY", "INFURA_API_KEY")

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	config.applyPreset()
	return config, config.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.name", "sepolia")
	v.SetDefault("network.rpc_url", "")
	v.SetDefault("network.infura_api_key", "")
	v.SetDefault("network.chain_id", 0)
	v.SetDefault("network.explorer_url", "")

	v.SetDefault("keystore.dir", "wallets")
	v.SetDefault("keystore.kdf_time", 1)
	v.SetDefault("keystore.kdf_memory", 64*1024)
	v.SetDefault("keystore.kdf_threads", 4)

	v.SetDefault("gas.limit", 21000)
	v.SetDefault("gas.price_gwei", "")
	v.SetDefault("gas.tip_cap_gwei", "")
	v.SetDefault("gas.fee_cap_gwei", "")

	v.SetDefault("airdrop.faucet", "faucet")
	v.SetDefault("airdrop.amount", "0.01")
	v.SetDefault("airdrop.max_per_recipient", "0.05")

	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.initial_backoff", "500ms")
	v.SetDefault("pipeline.max_backoff", "8s")
	v.SetDefault("pipeline.poll_interval", "2s")
	v.SetDefault("pipeline.confirm_timeout", "30s")

	v.SetDefault("ledger.path", "ledger")

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.redis_addr", "127.0.0.1:6379")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl", "2m")

	v.SetDefault("passphrase.source", "prompt")
	v.SetDefault("passphrase.env_var", EnvPrefix+"_PASSPHRASE")

	v.SetDefault("vault.address", "http://127.0.0.1:8200")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.kv_mount", "secret")
	v.SetDefault("vault.path_prefix", "ethwallet")

	v.SetDefault("log.env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("metrics.textfile", "")
}

func (c *Config) applyPreset() {
	p, ok := presets[strings.ToLower(c.Network.Name)]
	if !ok {
		return
	}
	if c.Network.ChainID == 0 {
		c.Network.ChainID = p.chainID
	}
	if c.Network.ExplorerURL == "" {
		c.Network.ExplorerURL = p.explorer
	}
	if c.Network.RPCURL == "" && c.Network.InfuraAPIKey != "" {
		c.Network.RPCURL = fmt.Sprintf("https://%s.infura.io/v3/%s", strings.ToLower(c.Network.Name), c.Network.InfuraAPIKey)
	}
}

// Validate checks the configuration for values no component can work with.
// Network settings are checked separately by NetworkConfig.Validate since
// offline commands do not need a node.
func (c Config) Validate() error {
	if c.Gas.Limit == 0 {
		return errors.New("gas.limit must be positive")
	}
	if _, err := c.Gas.Prices(); err != nil {
		return err
	}
	amount, err := c.Airdrop.AmountWei()
	if err != nil {
		return err
	}
	limit, err := c.Airdrop.MaxPerRecipientWei()
	if err != nil {
		return err
	}
	if amount.Cmp(limit) > 0 {
		return fmt.Errorf("airdrop.amount %s exceeds airdrop.max_per_recipient %s", c.Airdrop.Amount, c.Airdrop.MaxPerRecipient)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.PollInterval <= 0 || c.Pipeline.ConfirmTimeout <= 0 {
		return errors.New("pipeline.poll_interval and pipeline.confirm_timeout must be positive")
	}
	switch c.Lock.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	switch c.Passphrase.Source {
	case "prompt", "env", "vault":
	default:
		return fmt.Errorf("unknown passphrase.source %q", c.Passphrase.Source)
	}
	return nil
}

// Validate checks that a node can be reached and transactions signed.
func (n NetworkConfig) Validate() error {
	if n.RPCURL == "" {
		return errors.New("network.rpc_url is required (or set INFURA_API_KEY with a known network.name)")
	}
	if n.ChainID <= 0 {
		return fmt.Errorf("network.chain_id must be positive, got %d", n.ChainID)
	}
	return nil
}

// ChainIDBig returns the chain ID as a big integer for signers.
func (n NetworkConfig) ChainIDBig() *big.Int {
	return big.NewInt(n.ChainID)
}

// GasPrices holds the parsed gas defaults; nil fields were not configured.
type GasPrices struct {
	Price  *big.Int
	TipCap *big.Int
	FeeCap *big.Int
}

// Prices parses the configured gwei strings.
func (g GasConfig) Prices() (GasPrices, error) {
	var (
		p   GasPrices
		err error
	)
	if p.Price, err = optionalGwei("gas.price_gwei", g.PriceGwei); err != nil {
		return p, err
	}
	if p.TipCap, err = optionalGwei("gas.tip_cap_gwei", g.TipCapGwei); err != nil {
		return p, err
	}
	if p.FeeCap, err = optionalGwei("gas.fee_cap_gwei", g.FeeCapGwei); err != nil {
		return p, err
	}
	return p, nil
}

func optionalGwei(key, s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := units.ParseGwei(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// AmountWei returns the default airdrop amount in wei.
func (a AirdropConfig) AmountWei() (*big.Int, error) {
	v, err := units.ParseEther(a.Amount)
	if err != nil {
		return nil, fmt.Errorf("airdrop.amount: %w", err)
	}
	return v, nil
}

// MaxPerRecipientWei returns the per-recipient airdrop cap in wei.
func (a AirdropConfig) MaxPerRecipientWei() (*big.Int, error) {
	v, err := units.ParseEther(a.MaxPerRecipient)
	if err != nil {
		return nil, fmt.Errorf("airdrop.max_per_recipient: %w", err)
	}
	return v, nil
}
