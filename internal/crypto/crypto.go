// internal/crypto/crypto.go
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// -----------------------------------------------------------------------------
// Ledger crypto suite
//
// - SHA-256 for block hashes, transaction ids and node ids
// - HMAC-SHA-256 keyed by an identity string for block/envelope/tx MACs
// - XChaCha20-Poly1305 with a SHA3-256 derived key for wallet payloads
// - PBKDF2-SHA-256 for credential storage
// -----------------------------------------------------------------------------

const (
	XKeySize   = chacha20poly1305.KeySize    // 32
	XNonceSize = chacha20poly1305.NonceSizeX // 24

	PasswordIterations = 100_000
	PasswordKeySize    = 32
	DefaultSaltSize    = 16

	labelEncKey = "ledger:enc:v1"
)

var ErrCiphertext = errors.New("malformed ciphertext")

// -----------------------------------------------------------------------------
// Digests
// -----------------------------------------------------------------------------

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func HashString(s string) string {
	return Hash([]byte(s))
}

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

func KDF(label string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(label))
	buf = append(buf, []byte(label)...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return SHA3_256(buf)
}

// -----------------------------------------------------------------------------
// Keyed MAC ("signature")
// -----------------------------------------------------------------------------

// Sign returns hex HMAC-SHA-256 of message keyed by key.
func Sign(message []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes Sign(message, key) and compares in constant time.
func Verify(message []byte, sig string, key string) bool {
	want := Sign(message, key)
	return hmac.Equal([]byte(want), []byte(sig))
}

// -----------------------------------------------------------------------------
// Symmetric encryption
// -----------------------------------------------------------------------------

// Encrypt seals plaintext under a key derived from the key string. The output is
// hex(nonce24 || ciphertext).
func Encrypt(plaintext []byte, key string) (string, error) {
	aead, err := chacha20poly1305.NewX(KDF(labelEncKey, []byte(key)))
	if err != nil {
		return "", err
	}
	nonce := make([]byte, XNonceSize, XNonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

func Decrypt(ciphertext string, key string) ([]byte, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	if len(raw) < XNonceSize {
		return nil, ErrCiphertext
	}
	aead, err := chacha20poly1305.NewX(KDF(labelEncKey, []byte(key)))
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, raw[:XNonceSize], raw[XNonceSize:], nil)
}

// -----------------------------------------------------------------------------
// Credentials and randomness
// -----------------------------------------------------------------------------

func HashPassword(password string, salt []byte) string {
	dk := pbkdf2.Key([]byte(password), salt, PasswordIterations, PasswordKeySize, sha256.New)
	return hex.EncodeToString(dk)
}

// RandomSalt returns n bytes from crypto/rand. rand.Read does not fail on
// supported platforms.
func RandomSalt(n int) []byte {
	if n <= 0 {
		n = DefaultSaltSize
	}
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func RandomHex(n int) string {
	return hex.EncodeToString(RandomSalt(n))
}
