package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/chain"
	"github.com/xueqianLu/ethwallet/internal/config"
	"github.com/xueqianLu/ethwallet/internal/keystore"
	"github.com/xueqianLu/ethwallet/internal/ledger"
	"github.com/xueqianLu/ethwallet/internal/logger"
	"github.com/xueqianLu/ethwallet/internal/metrics"
	"github.com/xueqianLu/ethwallet/internal/nonce"
	"github.com/xueqianLu/ethwallet/internal/passphrase"
	"github.com/xueqianLu/ethwallet/internal/pipeline"
	"github.com/xueqianLu/ethwallet/internal/query"
	"github.com/xueqianLu/ethwallet/internal/registry"
	"github.com/xueqianLu/ethwallet/internal/txbuilder"
)

type dialFunc func(ctx context.Context, url string, log *zap.Logger) (chain.Client, error)

func dialEth(ctx context.Context, url string, log *zap.Logger) (chain.Client, error) {
	c, err := chain.Dial(ctx, url, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// app owns the components of one command invocation. Components are
// created on first use so offline commands never dial the node.
type app struct {
	in     *os.File
	out    io.Writer
	errOut io.Writer
	dial   dialFunc

	cfg config.Config
	log *zap.Logger

	keys    *keystore.Keystore
	reg     *registry.Registry
	client  chain.Client
	ledger  *ledger.Ledger
	rdb     *redis.Client
	metrics *metrics.Pipeline
	pass    passphrase.Source
}

func newApp(in *os.File, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, dial: dialEth, log: zap.NewNop()}
}

func (a *app) init(cfgPath, logLevel string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) keyStore() (*keystore.Keystore, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	params := keystore.KDFParams{
		Time:    a.cfg.Keystore.KDFTime,
		Memory:  a.cfg.Keystore.KDFMemory,
		Threads: a.cfg.Keystore.KDFThreads,
	}
	ks, err := keystore.New(a.cfg.Keystore.Dir, params, a.log.Named("keystore"))
	if err != nil {
		return nil, err
	}
	a.keys = ks
	return ks, nil
}

func (a *app) accounts() (*registry.Registry, error) {
	if a.reg != nil {
		return a.reg, nil
	}
	ks, err := a.keyStore()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(ks)
	if err != nil {
		return nil, err
	}
	a.reg = reg
	return reg, nil
}

// chainClient dials the node and checks it serves the configured chain.
func (a *app) chainClient(ctx context.Context) (chain.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if err := a.cfg.Network.Validate(); err != nil {
		return nil, err
	}
	client, err := a.dial(ctx, a.cfg.Network.RPCURL, a.log.Named("chain"))
	if err != nil {
		return nil, err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if id.Int64() != a.cfg.Network.ChainID {
		return nil, fmt.Errorf("node at %s serves chain %s, configured chain is %d", a.cfg.Network.RPCURL, id, a.cfg.Network.ChainID)
	}
	a.client = client
	return client, nil
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	l, err := ledger.Open(a.cfg.Ledger.Path, a.log.Named("ledger"))
	if err != nil {
		return nil, err
	}
	a.ledger = l
	return l, nil
}

func (a *app) locker(ctx context.Context) (nonce.Locker, error) {
	if a.cfg.Lock.Backend != "redis" {
		return nonce.NewLocalLocker(), nil
	}
	rdb, err := nonce.ConnectRedis(ctx, a.cfg.Lock.RedisAddr, a.cfg.Lock.RedisDB)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	return nonce.NewRedisLocker(rdb, a.cfg.Lock.TTL, a.log.Named("lock")), nil
}

func (a *app) passphrases() (passphrase.Source, error) {
	if a.pass != nil {
		return a.pass, nil
	}
	switch a.cfg.Passphrase.Source {
	case "env":
		a.pass = passphrase.NewEnv(a.cfg.Passphrase.EnvVar)
	case "vault":
		client, err := passphrase.NewVaultClient(a.cfg.Vault, a.log)
		if err != nil {
			return nil, err
		}
		a.pass = passphrase.NewVault(client, a.cfg.Vault.KVMount, a.cfg.Vault.PathPrefix, a.log.Named("vault"))
	default:
		a.pass = passphrase.NewPrompt(a.in, a.errOut)
	}
	return a.pass, nil
}

func (a *app) builder(client chain.Client, nonces *nonce.Manager) (*txbuilder.Builder, error) {
	reg, err := a.accounts()
	if err != nil {
		return nil, err
	}
	prices, err := a.cfg.Gas.Prices()
	if err != nil {
		return nil, err
	}
	amount, err := a.cfg.Airdrop.AmountWei()
	if err != nil {
		return nil, err
	}
	limit, err := a.cfg.Airdrop.MaxPerRecipientWei()
	if err != nil {
		return nil, err
	}
	return txbuilder.New(client, reg, nonces, txbuilder.Options{
		ChainID:  a.cfg.Network.ChainIDBig(),
		GasLimit: a.cfg.Gas.Limit,
		Defaults: txbuilder.Fees{GasPrice: prices.Price, TipCap: prices.TipCap, FeeCap: prices.FeeCap},
		Airdrop: txbuilder.AirdropPolicy{
			Faucet:          a.cfg.Airdrop.Faucet,
			Amount:          amount,
			MaxPerRecipient: limit,
		},
	}, a.log.Named("builder")), nil
}

// txPipeline wires the submission pipeline. A positive confirmTimeout
// replaces pipeline.confirm_timeout for this pipeline only.
func (a *app) txPipeline(ctx context.Context, confirmTimeout time.Duration) (*pipeline.Pipeline, error) {
	client, err := a.chainClient(ctx)
	if err != nil {
		return nil, err
	}
	ks, err := a.keyStore()
	if err != nil {
		return nil, err
	}
	l, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}
	nonces := nonce.NewManager(client, l, a.log.Named("nonce"))
	b, err := a.builder(client, nonces)
	if err != nil {
		return nil, err
	}
	pcfg := a.cfg.Pipeline
	if confirmTimeout > 0 {
		pcfg.ConfirmTimeout = confirmTimeout
	}
	a.metrics = metrics.NewPipeline()
	return pipeline.New(pipeline.Deps{
		Client:  client,
		Builder: b,
		Keys:    ks,
		Locker:  locker,
		Nonces:  nonces,
		Ledger:  l,
		Metrics: a.metrics,
	}, pcfg, a.log.Named("pipeline")), nil
}

func (a *app) queryService(ctx context.Context) (*query.Service, error) {
	client, err := a.chainClient(ctx)
	if err != nil {
		return nil, err
	}
	l, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	return query.New(client, l, a.log.Named("query")), nil
}

func (a *app) close() {
	if a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.log.Warn("Failed to export metrics", zap.Error(err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("Failed to close ledger", zap.Error(err))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if c, ok := a.client.(interface{ Close() }); ok {
		c.Close()
	}
	_ = a.log.Sync()
}
