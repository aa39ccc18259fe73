package query

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/ethwallet/internal/chain"
	"github.com/xueqianLu/ethwallet/internal/chain/chaintest"
	"github.com/xueqianLu/ethwallet/internal/ledger"
)

const testChainID = 11155111

var beef = common.HexToAddress("0x000000000000000000000000000000000000bEEF")

func signedTx(t *testing.T, nonce uint64) (*types.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(testChainID),
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(3),
		Gas:       21000,
		To:        &beef,
		Value:     big.NewInt(1000),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(testChainID)), key)
	require.NoError(t, err)
	return signed, crypto.PubkeyToAddress(key.PublicKey)
}

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLookupForeignTransactionDoesNotTouchLedger(t *testing.T) {
	client := chaintest.New(testChainID)
	l := openLedger(t)

	// One transaction of our own, to check it is left alone.
	own, ownFrom := signedTx(t, 0)
	ownRec := &ledger.Record{Hash: own.Hash(), From: ownFrom, To: beef, Value: big.NewInt(1000), Status: ledger.StatusPending, SubmittedAt: time.Unix(1, 0).UTC()}
	require.NoError(t, l.Put(ownRec))
	before, err := l.List(nil)
	require.NoError(t, err)

	foreign, from := signedTx(t, 7)
	client.AddMined(foreign, types.ReceiptStatusSuccessful)

	view, err := New(client, l, nil).Lookup(context.Background(), foreign.Hash())
	require.NoError(t, err)
	assert.Equal(t, from, view.From)
	assert.Equal(t, beef, *view.To)
	assert.Equal(t, uint64(7), view.Nonce)
	assert.Equal(t, big.NewInt(1000), view.Value)
	assert.Equal(t, uint8(types.DynamicFeeTxType), view.Type)
	assert.Equal(t, big.NewInt(3), view.GasFeeCap)
	assert.False(t, view.Pending)
	require.NotNil(t, view.Receipt)
	assert.Equal(t, ledger.StatusConfirmed, view.Status)
	assert.Equal(t, uint64(1), view.Confirmations)
	assert.Nil(t, view.Local)

	after, err := l.List(nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = l.Get(foreign.Hash())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLookupOwnPendingTransaction(t *testing.T) {
	client := chaintest.New(testChainID)
	l := openLedger(t)

	tx, from := signedTx(t, 0)
	client.SetNonce(from, 0)
	require.NoError(t, client.Broadcast(context.Background(), tx))
	require.NoError(t, l.Put(&ledger.Record{Hash: tx.Hash(), From: from, To: beef, Value: big.NewInt(1000), Status: ledger.StatusPending}))

	view, err := New(client, l, nil).Lookup(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.True(t, view.Pending)
	assert.Nil(t, view.Receipt)
	assert.Equal(t, ledger.StatusPending, view.Status)
	require.NotNil(t, view.Local)

	// The view holds a copy.
	view.Local.Status = ledger.StatusConfirmed
	stored, err := l.Get(tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, stored.Status)
}

func TestLookupRevertedTransaction(t *testing.T) {
	client := chaintest.New(testChainID)
	tx, _ := signedTx(t, 0)
	client.AddMined(tx, types.ReceiptStatusFailed)

	view, err := New(client, nil, nil).Lookup(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, view.Status)
	assert.Equal(t, uint64(0), view.Receipt.Status)
}

func TestLookupFallsBackToLedger(t *testing.T) {
	client := chaintest.New(testChainID)
	l := openLedger(t)
	hash := common.HexToHash("0xabcd")
	require.NoError(t, l.Put(&ledger.Record{Hash: hash, To: beef, Value: big.NewInt(5), Status: ledger.StatusDropped}))

	view, err := New(client, l, nil).Lookup(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDropped, view.Status)
	assert.NotNil(t, view.Local)
}

func TestLookupNotFound(t *testing.T) {
	client := chaintest.New(testChainID)
	_, err := New(client, openLedger(t), nil).Lookup(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupChainUnavailable(t *testing.T) {
	client := chaintest.New(testChainID)
	client.SetUnavailable(true)
	_, err := New(client, nil, nil).Lookup(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
}
