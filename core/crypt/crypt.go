// Package crypt provides the symmetric cipher used for field-level encryption.
//
// Ciphertexts are AES-256-CBC with PKCS#7 padding and a fresh random IV per
// call. The IV is appended to the ciphertext and the result is hex encoded:
//
//	hex(ciphertext || iv)
//
// The AES key is derived from a caller supplied secret by a [KeyDeriver].
// The default, [SHA256Base64], takes the first 32 characters of the base64
// encoded SHA-256 digest of the secret.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/codewandler/esrepo-go/core/cache"
)

const (
	keyLength = 32
	ivLength  = aes.BlockSize
)

var (
	ErrEmptyKey          = errors.New("encryption key is empty")
	ErrMalformedCipher   = errors.New("malformed ciphertext")
	ErrInvalidPadding    = errors.New("invalid padding")
	ErrInvalidDerivedKey = fmt.Errorf("derived key must be %d bytes", keyLength)
)

// Cipher encrypts and decrypts strings with a secret.
type Cipher interface {
	Encrypt(plaintext, secret string) (string, error)
	Decrypt(ciphertext, secret string) (string, error)
}

// KeyDeriver turns a secret of arbitrary length into a 32 byte AES key.
type KeyDeriver func(secret string) ([]byte, error)

type Option func(*AESCBC)

// WithKeyDeriver replaces the default key derivation.
func WithKeyDeriver(kd KeyDeriver) Option { return func(c *AESCBC) { c.derive = kd } }

// WithRandom replaces the IV source. Tests only.
func WithRandom(r io.Reader) Option { return func(c *AESCBC) { c.rand = r } }

// WithBlockCache replaces the cache of expanded keys, keyed by secret.
// Pass cache.NewNop to derive the key on every call.
func WithBlockCache(bc cache.Cache[cipher.Block]) Option { return func(c *AESCBC) { c.blocks = bc } }

type AESCBC struct {
	derive KeyDeriver
	rand   io.Reader
	blocks cache.Cache[cipher.Block]
}

func NewAESCBC(opts ...Option) *AESCBC {
	c := &AESCBC{derive: SHA256Base64, rand: rand.Reader, blocks: cache.NewLRU[cipher.Block](16)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *AESCBC) block(secret string) (cipher.Block, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	if b, ok := c.blocks.Get(secret); ok {
		return b, nil
	}
	key, err := c.derive(secret)
	if err != nil {
		return nil, err
	}
	if len(key) != keyLength {
		return nil, ErrInvalidDerivedKey
	}
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	c.blocks.Put(secret, b)
	return b, nil
}

func (c *AESCBC) Encrypt(plaintext, secret string) (string, error) {
	block, err := c.block(secret)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("failed to read iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded), len(padded)+ivLength)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	out = append(out, iv...)

	return hex.EncodeToString(out), nil
}

func (c *AESCBC) Decrypt(ciphertext, secret string) (string, error) {
	block, err := c.block(secret)
	if err != nil {
		return "", err
	}

	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedCipher, err)
	}
	if len(raw) < ivLength+aes.BlockSize || (len(raw)-ivLength)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: unexpected length %d", ErrMalformedCipher, len(raw))
	}

	var (
		data = raw[:len(raw)-ivLength]
		iv   = raw[len(raw)-ivLength:]
		out  = make([]byte, len(data))
	)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	out, err = unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// === padding ===

func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}

// === key derivation ===

// SHA256Base64 derives the key as the first 32 characters of
// base64(sha256(secret)).
func SHA256Base64(secret string) ([]byte, error) {
	sum := sha256.Sum256([]byte(secret))
	return []byte(base64.StdEncoding.EncodeToString(sum[:])[:keyLength]), nil
}

var _ Cipher = (*AESCBC)(nil)
