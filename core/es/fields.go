package es

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codewandler/esrepo-go/core/crypt"
	"github.com/codewandler/esrepo-go/core/ds"
)

// FieldEncodingJSON marks rows whose encrypted values are JSON encoded
// before encryption. Rows without it were written by older clients that
// encrypted raw strings.
const FieldEncodingJSON = "json"

// fieldCipher encrypts named top-level fields of a document. Values are JSON
// encoded before encryption so their type survives decryption.
type fieldCipher struct {
	log    *slog.Logger
	cipher crypt.Cipher
}

// encrypt replaces the named fields of doc by their ciphertext and returns
// the names that were actually encrypted. Without a key doc is left as is.
func (f fieldCipher) encrypt(doc map[string]any, fields []string, key string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	if key == "" {
		f.log.Debug("no encryption key, storing sensitive fields in plaintext", slog.Any("fields", fields))
		return nil, nil
	}

	var done []string
	for _, name := range ds.NewSet(fields...).Values() {
		v, ok := doc[name]
		if !ok {
			continue
		}
		plain, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", name, err)
		}
		ct, err := f.cipher.Encrypt(string(plain), key)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %s: %w", name, err)
		}
		doc[name] = ct
		done = append(done, name)
	}
	return done, nil
}

// decrypt reverses encrypt in place. encoding is the row's field encoding:
// with FieldEncodingJSON the plaintext is decoded, otherwise it is kept as
// the raw string older clients encrypted. Without a key the ciphertext is
// left in place.
func (f fieldCipher) decrypt(doc map[string]any, fields []string, encoding, key string) error {
	if len(fields) == 0 {
		return nil
	}
	if key == "" {
		f.log.Debug("no encryption key, leaving encrypted fields as ciphertext", slog.Any("fields", fields))
		return nil
	}

	for _, name := range ds.NewSet(fields...).Values() {
		v, ok := doc[name]
		if !ok {
			continue
		}
		ct, ok := v.(string)
		if !ok {
			return fmt.Errorf("encrypted field %s holds %T, want string", name, v)
		}
		plain, err := f.cipher.Decrypt(ct, key)
		if err != nil {
			return fmt.Errorf("failed to decrypt field %s: %w", name, err)
		}
		if encoding != FieldEncodingJSON {
			doc[name] = plain
			continue
		}
		var decoded any
		if err := decodeInto([]byte(plain), &decoded); err != nil {
			return fmt.Errorf("failed to decode field %s: %w", name, err)
		}
		doc[name] = decoded
	}
	return nil
}
