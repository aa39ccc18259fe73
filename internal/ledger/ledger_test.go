package ledger

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func record(from common.Address, nonce uint64, status Status, at time.Time) *Record {
	return &Record{
		Hash:        common.BigToHash(new(big.Int).SetUint64(uint64(from[19])<<32 | nonce)),
		Intent:      "transfer",
		From:        from,
		To:          common.HexToAddress("0xbeef"),
		Value:       big.NewInt(1000),
		Nonce:       nonce,
		ChainID:     big.NewInt(11155111),
		Status:      status,
		SubmittedAt: at,
	}
}

func TestPutGet(t *testing.T) {
	l := openTestLedger(t)
	r := record(alice, 0, StatusPending, time.Unix(100, 0).UTC())
	require.NoError(t, l.Put(r))

	got, err := l.Get(r.Hash)
	require.NoError(t, err)
	assert.Equal(t, r.Value, got.Value)
	assert.Equal(t, r.From, got.From)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, r.SubmittedAt.Equal(got.SubmittedAt))

	assert.ErrorIs(t, l.Put(r), ErrExists)

	_, err = l.Get(common.HexToHash("0x99"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateKeepsIdentity(t *testing.T) {
	l := openTestLedger(t)
	r := record(alice, 3, StatusPending, time.Now())
	require.NoError(t, l.Put(r))

	updated, err := l.Update(r.Hash, func(rec *Record) error {
		rec.Status = StatusConfirmed
		rec.BlockNumber = 42
		rec.Nonce = 99
		rec.From = bob
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, uint64(3), updated.Nonce)
	assert.Equal(t, alice, updated.From)

	got, err := l.Get(r.Hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.BlockNumber)

	boom := errors.New("boom")
	_, err = l.Update(r.Hash, func(*Record) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, err = l.Update(common.HexToHash("0x99"), func(*Record) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrderAndFilter(t *testing.T) {
	l := openTestLedger(t)
	base := time.Unix(1000, 0)
	require.NoError(t, l.Put(record(alice, 1, StatusPending, base.Add(2*time.Second))))
	require.NoError(t, l.Put(record(bob, 0, StatusPending, base.Add(time.Second))))
	require.NoError(t, l.Put(record(alice, 0, StatusConfirmed, base)))

	all, err := l.List(nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(0), all[0].Nonce)
	assert.Equal(t, bob, all[1].From)

	mine, err := l.List(&alice)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	for _, r := range mine {
		assert.Equal(t, alice, r.From)
	}
}

func TestHighestNonceSkipsFailedAndDropped(t *testing.T) {
	l := openTestLedger(t)
	now := time.Now()

	_, ok, err := l.HighestNonce(alice)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Put(record(alice, 4, StatusConfirmed, now)))
	require.NoError(t, l.Put(record(alice, 5, StatusPending, now)))
	require.NoError(t, l.Put(record(alice, 6, StatusFailed, now)))
	require.NoError(t, l.Put(record(alice, 7, StatusDropped, now)))
	require.NoError(t, l.Put(record(bob, 50, StatusPending, now)))

	n, ok, err := l.HighestNonce(alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), n)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	l, err := Open(path, nil)
	require.NoError(t, err)
	r := record(alice, 0, StatusPending, time.Now())
	require.NoError(t, l.Put(r))
	require.NoError(t, l.Close())

	l, err = Open(path, nil)
	require.NoError(t, err)
	defer l.Close()
	_, err = l.Get(r.Hash)
	assert.NoError(t, err)
}

func TestStatusFinal(t *testing.T) {
	assert.True(t, StatusConfirmed.Final())
	assert.True(t, StatusFailed.Final())
	assert.False(t, StatusPending.Final())
	assert.False(t, StatusDropped.Final())
}

func TestClone(t *testing.T) {
	r := record(alice, 0, StatusPending, time.Now())
	c := r.Clone()
	c.Value.SetInt64(1)
	assert.Equal(t, big.NewInt(1000), r.Value)
}
