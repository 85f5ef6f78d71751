package crypt

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// HKDF derives the key with HKDF-SHA256. Salt and info are optional.
func HKDF(salt, info []byte) KeyDeriver {
	return func(secret string) ([]byte, error) {
		key := make([]byte, keyLength)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), salt, info), key); err != nil {
			return nil, err
		}
		return key, nil
	}
}

// BLAKE2b derives the key as the unkeyed BLAKE2b-256 digest of the secret.
func BLAKE2b(secret string) ([]byte, error) {
	sum := blake2b.Sum256([]byte(secret))
	return sum[:], nil
}
