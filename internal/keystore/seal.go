package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	cipherName = "xchacha20-poly1305"
	kdfName    = "argon2id"
	keyLen     = 32
	saltLen    = 32
)

// KDFParams are the argon2id cost parameters used when sealing new wallets.
// Memory is in KiB.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

var (
	// StandardKDF is the cost used for wallets created from the CLI.
	StandardKDF = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

	// LightKDF trades security for speed and is meant for tests only.
	LightKDF = KDFParams{Time: 1, Memory: 1024, Threads: 1}
)

type kdfParamsJSON struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	KeyLen  uint32 `json:"keylen"`
	Salt    string `json:"salt"`
}

// cryptoJSON is the sealed private key as persisted.
type cryptoJSON struct {
	Cipher     string        `json:"cipher"`
	CipherText string        `json:"ciphertext"`
	Nonce      string        `json:"nonce"`
	Tag        string        `json:"tag"`
	KDF        string        `json:"kdf"`
	KDFParams  kdfParamsJSON `json:"kdfparams"`
}

func deriveAEADKey(passphrase, salt []byte, p kdfParamsJSON) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// seal encrypts plaintext under a key derived from passphrase. aad binds the
// ciphertext to the record it is stored in.
func seal(plaintext, passphrase, aad []byte, params KDFParams) (*cryptoJSON, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	kp := kdfParamsJSON{
		Time:    params.Time,
		Memory:  params.Memory,
		Threads: params.Threads,
		KeyLen:  keyLen,
		Salt:    hex.EncodeToString(salt),
	}

	key := deriveAEADKey(passphrase, salt, kp)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()

	return &cryptoJSON{
		Cipher:     cipherName,
		CipherText: hex.EncodeToString(sealed[:split]),
		Nonce:      hex.EncodeToString(nonce),
		Tag:        hex.EncodeToString(sealed[split:]),
		KDF:        kdfName,
		KDFParams:  kp,
	}, nil
}

// open reverses seal. Any authentication failure is reported as
// ErrInvalidPassphrase; the caller owns (and must zero) the returned bytes.
func open(c *cryptoJSON, passphrase, aad []byte) ([]byte, error) {
	if c.Cipher != cipherName {
		return nil, fmt.Errorf("cipher not supported: %s", c.Cipher)
	}
	if c.KDF != kdfName {
		return nil, fmt.Errorf("kdf not supported: %s", c.KDF)
	}
	if c.KDFParams.KeyLen != keyLen {
		return nil, fmt.Errorf("unexpected derived key length %d", c.KDFParams.KeyLen)
	}
	salt, err := hex.DecodeString(c.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %w", err)
	}
	nonce, err := hex.DecodeString(c.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	ciphertext, err := hex.DecodeString(c.CipherText)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}
	tag, err := hex.DecodeString(c.Tag)
	if err != nil {
		return nil, fmt.Errorf("invalid tag: %w", err)
	}

	key := deriveAEADKey(passphrase, salt, c.KDFParams)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() || len(tag) != aead.Overhead() {
		return nil, fmt.Errorf("malformed sealed key")
	}

	box := make([]byte, 0, len(ciphertext)+len(tag))
	box = append(box, ciphertext...)
	box = append(box, tag...)
	plaintext, err := aead.Open(nil, nonce, box, aad)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
