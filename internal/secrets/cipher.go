package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecryption is returned for any malformed or tampered credential payload.
// The cause is deliberately not detailed further; callers must never log the
// plaintext or the scrambler.
var ErrDecryption = errors.New("credential decryption failed")

// Cipher performs symmetric encryption of short-lived credentials under a
// per-session scrambler key supplied by the client. This is a compatibility
// mechanism against replay across sessions, not a cryptographic boundary:
// whoever holds the scrambler holds the credential.
type Cipher struct{}

func NewCipher() *Cipher { return &Cipher{} }

// Encrypt seals plaintext under the scrambler and returns a base64 blob.
func (c *Cipher) Encrypt(plaintext, scrambler string) (string, error) {
	gcm, err := keyedGCM(scrambler)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt recovers the plaintext from a base64 blob produced by Encrypt.
// Returns ErrDecryption on any malformed input.
func (c *Cipher) Decrypt(cipherText, scrambler string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", ErrDecryption
	}
	gcm, err := keyedGCM(scrambler)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrDecryption
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

func keyedGCM(scrambler string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(scrambler))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	return gcm, nil
}
