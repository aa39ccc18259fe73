package keystore

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := New(t.TempDir(), LightKDF, nil)
	require.NoError(t, err)
	return ks
}

func TestCreateAndUnlock(t *testing.T) {
	ks := newTestKeystore(t)

	w, err := ks.Create("alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "alice", w.Label)
	assert.NotEmpty(t, w.ID)

	key, err := ks.Unlock("alice", "pw1")
	require.NoError(t, err)
	defer key.Close()
	assert.Equal(t, w.Address, key.Address())
	assert.Equal(t, "alice", key.Label())
}

func TestUnlockWrongPassphrase(t *testing.T) {
	ks := newTestKeystore(t)
	_, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	for _, wrong := range []string{"pw2", "", "PW1", "pw1 "} {
		_, err := ks.Unlock("alice", wrong)
		assert.ErrorIs(t, err, ErrInvalidPassphrase, "passphrase %q", wrong)
	}
}

func TestUnlockNotFound(t *testing.T) {
	ks := newTestKeystore(t)
	_, err := ks.Unlock("bob", "pw")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateLabel(t *testing.T) {
	ks := newTestKeystore(t)
	_, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	_, err = ks.Create("alice", "other")
	assert.ErrorIs(t, err, ErrDuplicateLabel)

	// The first wallet is untouched.
	_, err = ks.Unlock("alice", "pw1")
	assert.NoError(t, err)
}

func TestCreateRejectsBadInput(t *testing.T) {
	ks := newTestKeystore(t)

	for _, label := range []string{"", "../escape", "has space", ".hidden", strings.Repeat("a", 65)} {
		_, err := ks.Create(label, "pw")
		assert.ErrorIs(t, err, ErrInvalidLabel, "label %q", label)
	}
	_, err := ks.Create("alice", "")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestListScenario(t *testing.T) {
	ks := newTestKeystore(t)
	w, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	accounts, err := ks.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].Label)
	assert.Equal(t, w.Address, accounts[0].Address)
}

func TestListSortedAndSkipsJunk(t *testing.T) {
	ks := newTestKeystore(t)
	for _, label := range []string{"carol", "alice", "bob"} {
		_, err := ks.Create(label, "pw")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(ks.Dir(), "broken.json"), []byte("{"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(ks.Dir(), "notes.txt"), []byte("hi"), 0600))

	accounts, err := ks.List()
	require.NoError(t, err)
	var labels []string
	for _, a := range accounts {
		labels = append(labels, a.Label)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, labels)
}

func TestWalletFileHasNoPlainKey(t *testing.T) {
	ks := newTestKeystore(t)
	w, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ks.Dir(), "alice.json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "private_key")
	assert.Equal(t, w.Address.Hex(), raw["address"])

	c := raw["crypto"].(map[string]any)
	assert.Equal(t, "xchacha20-poly1305", c["cipher"])
	assert.Equal(t, "argon2id", c["kdf"])
	assert.NotEmpty(t, c["nonce"])
	assert.NotEmpty(t, c["tag"])

	key, err := ks.Unlock("alice", "pw1")
	require.NoError(t, err)
	defer key.Close()
	key.mu.Lock()
	plain := crypto.FromECDSA(key.key)
	key.mu.Unlock()
	assert.False(t, bytes.Contains(data, []byte(common.Bytes2Hex(plain))))

	info, err := os.Stat(filepath.Join(ks.Dir(), "alice.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestTamperedAddressFailsAuthentication(t *testing.T) {
	ks := newTestKeystore(t)
	_, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	path := filepath.Join(ks.Dir(), "alice.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var wj walletJSON
	require.NoError(t, json.Unmarshal(data, &wj))
	wj.Address = common.HexToAddress("0x000000000000000000000000000000000000bEEF").Hex()
	data, err = json.Marshal(wj)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = ks.Unlock("alice", "pw1")
	assert.ErrorIs(t, err, ErrInvalidPassphrase)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	plain := crypto.FromECDSA(key)
	aad := []byte("label|addr")

	sealed, err := seal(plain, []byte("secret"), aad, LightKDF)
	require.NoError(t, err)

	opened, err := open(sealed, []byte("secret"), aad)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)

	_, err = open(sealed, []byte("secret"), []byte("other|addr"))
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	sealed.Cipher = "aes-128-ctr"
	_, err = open(sealed, []byte("secret"), aad)
	assert.Error(t, err)
}

func TestWithKeyReleasesOnError(t *testing.T) {
	ks := newTestKeystore(t)
	_, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	var held *UnlockedKey
	boom := assert.AnError
	err = ks.WithKey("alice", "pw1", func(k *UnlockedKey) error {
		held = k
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, held)
	assert.True(t, held.Released())

	tx := types.NewTx(&types.LegacyTx{Nonce: 0, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(1)})
	_, err = held.SignTx(tx, types.LatestSignerForChainID(big.NewInt(1)))
	assert.ErrorIs(t, err, ErrKeyReleased)
}

func TestWithKeyReleasesOnPanic(t *testing.T) {
	ks := newTestKeystore(t)
	_, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	var held *UnlockedKey
	assert.Panics(t, func() {
		_ = ks.WithKey("alice", "pw1", func(k *UnlockedKey) error {
			held = k
			panic("boom")
		})
	})
	require.NotNil(t, held)
	assert.True(t, held.Released())
}

func TestSignedTransactionRecoversWalletAddress(t *testing.T) {
	ks := newTestKeystore(t)
	w, err := ks.Create("alice", "pw1")
	require.NoError(t, err)

	chainID := big.NewInt(11155111)
	signer := types.LatestSignerForChainID(chainID)
	to := common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1000),
	})

	var signed *types.Transaction
	err = ks.WithKey("alice", "pw1", func(k *UnlockedKey) error {
		var serr error
		signed, serr = k.SignTx(tx, signer)
		return serr
	})
	require.NoError(t, err)

	from, err := types.Sender(signer, signed)
	require.NoError(t, err)
	assert.Equal(t, w.Address, from)
}
