// Package cryptox implements field-level encryption and keyed search
// indexes for records leaving the agent.
//
// A single user-held secret is expanded with HKDF into two unrelated
// subkeys: one for AES-256-GCM field encryption and one for the HMAC used
// to compute search index tokens. The server never sees either.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrNoKey is returned when no secret is configured.
	ErrNoKey = errors.New("encryption key not set")
	// ErrMalformedCiphertext is returned for input that is not a value
	// produced by Encrypt or EncryptBinary.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

const (
	keySize   = 32
	nonceSize = 12

	encInfo   = "contexter/field-encryption/v1"
	indexInfo = "contexter/search-index/v1"
)

// Keys holds the subkeys derived from the user secret.
type Keys struct {
	enc   []byte
	index []byte
}

// DeriveKeys expands secret into encryption and index subkeys.
func DeriveKeys(secret string) (*Keys, error) {
	if secret == "" {
		return nil, ErrNoKey
	}

	k := &Keys{enc: make([]byte, keySize), index: make([]byte, keySize)}

	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(encInfo)), k.enc); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(indexInfo)), k.index); err != nil {
		return nil, fmt.Errorf("derive index key: %w", err)
	}
	return k, nil
}

// Wipe zeroes the key material.
func (k *Keys) Wipe() {
	if k == nil {
		return
	}
	for i := range k.enc {
		k.enc[i] = 0
	}
	for i := range k.index {
		k.index[i] = 0
	}
}

func (k *Keys) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.enc)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptBinary seals data with AES-256-GCM under a fresh random nonce and
// returns base64(nonce || ciphertext).
func EncryptBinary(data []byte, k *Keys) (string, error) {
	if k == nil {
		return "", ErrNoKey
	}
	aesgcm, err := k.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out := aesgcm.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptBinary reverses EncryptBinary. It fails if the value was sealed
// under a different key or was tampered with.
func DecryptBinary(ciphertext string, k *Keys) ([]byte, error) {
	if k == nil {
		return nil, ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < nonceSize {
		return nil, ErrMalformedCiphertext
	}

	aesgcm, err := k.aead()
	if err != nil {
		return nil, err
	}
	return aesgcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
}

// Encrypt seals a UTF-8 string. See EncryptBinary for the output format.
func Encrypt(plaintext string, k *Keys) (string, error) {
	return EncryptBinary([]byte(plaintext), k)
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(ciphertext string, k *Keys) (string, error) {
	b, err := DecryptBinary(ciphertext, k)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SearchIndex returns hex(HMAC-SHA256(indexKey, normalized)). The same
// value and key always give the same token; the token cannot be reversed.
func SearchIndex(normalized string, k *Keys) string {
	mac := hmac.New(sha256.New, k.index)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// MakeVerifier returns a fingerprint of a secret that can be displayed or
// stored without revealing it.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// DeriveMasterKey stretches a passphrase into a 32-byte secret (argon2id).
func DeriveMasterKey(password []byte, salt []byte) []byte {
	x := argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
	return x
}
