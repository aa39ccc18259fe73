package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/ethwallet/internal/chain"
	"github.com/xueqianLu/ethwallet/internal/chain/chaintest"
	"github.com/xueqianLu/ethwallet/internal/keystore"
)

const chainID = 11155111

var (
	alice  = keystore.Account{Label: "alice", Address: common.HexToAddress("0x00000000000000000000000000000000000a11ce")}
	faucet = keystore.Account{Label: "faucet", Address: common.HexToAddress("0x0000000000000000000000000000000000fa0cE7")}
	beef   = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
)

type accounts map[string]keystore.Account

func (a accounts) ByLabel(label string) (keystore.Account, error) {
	acc, ok := a[label]
	if !ok {
		return keystore.Account{}, fmt.Errorf("no wallet %s", label)
	}
	return acc, nil
}

type chainNonces struct{ client chain.Client }

func (n chainNonces) Next(ctx context.Context, addr common.Address) (uint64, error) {
	return n.client.PendingNonceAt(ctx, addr)
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

func newBuilder(client *chaintest.Client, opts Options) *Builder {
	if opts.ChainID == nil {
		opts.ChainID = big.NewInt(chainID)
	}
	if opts.Airdrop.Faucet == "" {
		opts.Airdrop = AirdropPolicy{
			Faucet:          "faucet",
			Amount:          big.NewInt(params.Ether / 100),
			MaxPerRecipient: big.NewInt(params.Ether / 20),
		}
	}
	return New(client, accounts{"alice": alice, "faucet": faucet}, chainNonces{client}, opts, nil)
}

func TestTransferInsufficientFunds(t *testing.T) {
	client := chaintest.New(chainID)
	b := newBuilder(client, Options{})

	_, err := b.Build(context.Background(), Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1000)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Zero(t, client.BroadcastAttempts())
}

func TestTransferDynamicFeeFromEstimate(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetBalance(alice.Address, ether(1))
	client.SetNonce(alice.Address, 4)
	b := newBuilder(client, Options{})

	utx, err := b.Build(context.Background(), Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1000)})
	require.NoError(t, err)

	assert.True(t, utx.Dynamic())
	assert.Equal(t, uint64(4), utx.Nonce)
	assert.Equal(t, params.TxGas, utx.GasLimit)
	// 2 * 1 gwei base + 1 gwei tip
	assert.Equal(t, big.NewInt(3_000_000_000), utx.GasFeeCap)
	assert.Equal(t, big.NewInt(1_000_000_000), utx.GasTipCap)
	assert.Equal(t, alice.Address, utx.From)

	tx := utx.Tx()
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, beef, *tx.To())
	assert.Equal(t, big.NewInt(chainID), tx.ChainId())
}

func TestLegacyWhenNoBaseFee(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetBalance(alice.Address, ether(1))
	client.SetFee(chain.FeeEstimate{GasPrice: big.NewInt(5)})
	b := newBuilder(client, Options{})

	utx, err := b.Build(context.Background(), Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1)})
	require.NoError(t, err)
	assert.False(t, utx.Dynamic())
	assert.Equal(t, big.NewInt(5), utx.GasPrice)
	assert.Equal(t, uint8(types.LegacyTxType), utx.Tx().Type())
}

func TestFeeOverrides(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetBalance(alice.Address, ether(1))
	b := newBuilder(client, Options{Defaults: Fees{GasPrice: big.NewInt(7)}})
	ctx := context.Background()

	utx, err := b.Build(ctx, Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), utx.GasPrice)
	assert.Zero(t, client.FeeCalls())

	utx, err = b.Build(ctx, Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1),
		Fees: Fees{TipCap: big.NewInt(2), FeeCap: big.NewInt(10), GasLimit: 30000}})
	require.NoError(t, err)
	assert.True(t, utx.Dynamic())
	assert.Nil(t, utx.GasPrice)
	assert.Equal(t, uint64(30000), utx.GasLimit)

	_, err = b.Build(ctx, Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1),
		Fees: Fees{TipCap: big.NewInt(20), FeeCap: big.NewInt(10)}})
	assert.ErrorIs(t, err, ErrInvalidFees)

	_, err = b.Build(ctx, Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1),
		Fees: Fees{GasLimit: 100}})
	assert.ErrorIs(t, err, ErrInvalidFees)
}

func TestFeeEstimateIsCached(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetBalance(faucet.Address, ether(1))
	b := newBuilder(client, Options{})

	for i := 0; i < 3; i++ {
		_, err := b.Build(context.Background(), Request{Intent: AirdropDistribution, To: beef})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, client.FeeCalls())
}

func TestAirdropCapCheckedBeforeNetwork(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetUnavailable(true)
	b := newBuilder(client, Options{})

	_, err := b.Build(context.Background(), Request{Intent: AirdropDistribution, To: beef, Value: ether(1)})
	assert.ErrorIs(t, err, ErrAirdropCapExceeded)
	assert.Zero(t, client.FeeCalls())
	assert.Zero(t, client.BroadcastAttempts())
}

func TestAirdropUsesFaucetAndDefaultAmount(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetBalance(faucet.Address, ether(1))
	b := newBuilder(client, Options{})

	req := Request{Intent: AirdropDistribution, From: "alice", To: beef}
	sender, err := b.Sender(req)
	require.NoError(t, err)
	assert.Equal(t, faucet, sender)

	utx, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, faucet.Address, utx.From)
	assert.Equal(t, "faucet", utx.FromLabel)
	assert.Equal(t, big.NewInt(params.Ether/100), utx.Value)
	assert.Equal(t, AirdropDistribution, utx.Intent)
}

func TestAirdropInsufficientFundsIncludesGas(t *testing.T) {
	client := chaintest.New(chainID)
	// Exactly the airdrop amount, nothing left for gas.
	client.SetBalance(faucet.Address, big.NewInt(params.Ether/100))
	b := newBuilder(client, Options{})

	_, err := b.Build(context.Background(), Request{Intent: AirdropDistribution, To: beef})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestChainUnavailableSurfaces(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetUnavailable(true)
	b := newBuilder(client, Options{})

	_, err := b.Build(context.Background(), Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(1)})
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
}

func TestInvalidRequests(t *testing.T) {
	client := chaintest.New(chainID)
	client.SetBalance(alice.Address, ether(1))
	b := newBuilder(client, Options{})
	huge := new(big.Int).Lsh(big.NewInt(1), 256)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"zero value", Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(0)}, ErrInvalidValue},
		{"negative value", Request{Intent: Transfer, From: "alice", To: beef, Value: big.NewInt(-1)}, ErrInvalidValue},
		{"missing value", Request{Intent: Transfer, From: "alice", To: beef}, ErrInvalidValue},
		{"overflow", Request{Intent: Transfer, From: "alice", To: beef, Value: huge}, ErrInvalidValue},
		{"to self", Request{Intent: Transfer, From: "alice", To: alice.Address, Value: big.NewInt(1)}, ErrSelfTransfer},
		{"airdrop to faucet", Request{Intent: AirdropDistribution, To: faucet.Address}, ErrSelfTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := b.Build(context.Background(), Request{Intent: Transfer, From: "nobody", To: beef, Value: big.NewInt(1)})
	assert.Error(t, err)
}

func TestIntentString(t *testing.T) {
	for _, i := range []Intent{Transfer, AirdropDistribution} {
		parsed, err := ParseIntent(i.String())
		require.NoError(t, err)
		assert.Equal(t, i, parsed)
	}
	_, err := ParseIntent("mint")
	assert.Error(t, err)
}

func TestMaxCost(t *testing.T) {
	utx := &UnsignedTransaction{Value: big.NewInt(10), GasLimit: 21000, GasPrice: big.NewInt(2)}
	assert.Equal(t, big.NewInt(42010), utx.MaxCost())
	utx = &UnsignedTransaction{Value: big.NewInt(10), GasLimit: 21000, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(3)}
	assert.Equal(t, big.NewInt(63010), utx.MaxCost())
}
