package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

// TokenCipher protects provider tokens at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(stored string) (string, error)
}

// NoopCipher stores tokens as given.
type NoopCipher struct{}

func (NoopCipher) Encrypt(plaintext string) (string, error) { return plaintext, nil }
func (NoopCipher) Decrypt(stored string) (string, error)    { return stored, nil }

const sealedPrefix = "xc1:"

// AEADCipher seals tokens with XChaCha20-Poly1305. Stored values are
// "xc1:" + base64(nonce || ciphertext). Values without the prefix were
// written before encryption was enabled and are returned unchanged.
type AEADCipher struct {
	aead cipher.AEAD
}

// NewAEADCipher expects a 32-byte key.
func NewAEADCipher(key []byte) (*AEADCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init token cipher: %w", err)
	}
	return &AEADCipher{aead: aead}, nil
}

func (c *AEADCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (c *AEADCipher) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed token: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("sealed token too short")
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed token: %w", err)
	}
	return string(plaintext), nil
}

// SealCredential returns a copy of cred with its tokens encrypted.
func SealCredential(c TokenCipher, cred *model.ProviderCredential) (*model.ProviderCredential, error) {
	return transformCredential(cred, c.Encrypt)
}

// OpenCredential returns a copy of cred with its tokens decrypted.
func OpenCredential(c TokenCipher, cred *model.ProviderCredential) (*model.ProviderCredential, error) {
	return transformCredential(cred, c.Decrypt)
}

func transformCredential(cred *model.ProviderCredential, fn func(string) (string, error)) (*model.ProviderCredential, error) {
	out := *cred
	var err error
	if out.AccessToken, err = fn(cred.AccessToken); err != nil {
		return nil, err
	}
	if out.RefreshToken, err = fn(cred.RefreshToken); err != nil {
		return nil, err
	}
	return &out, nil
}
