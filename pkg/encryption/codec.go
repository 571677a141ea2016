// Package encryption seals personally identifiable fields before they reach storage.
//
// Ciphertexts are self-describing: every sealed value starts with Marker followed by
// base64url(nonce || AES-256-GCM box). The marker is what makes Encrypt idempotent.
// Values that come from users must go through Seal, which never trusts the marker.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Marker tags every value produced by Encrypt.
	Marker = "enc:v1:"

	// KDFIterations is the PBKDF2-SHA256 work factor used to derive the field key.
	KDFIterations = 480_000
	keyLength     = 32
)

var (
	// ErrMissingKeyMaterial is returned by NewCodec when the secret or the salt is empty.
	ErrMissingKeyMaterial = errors.New("encryption: secret and salt are required")
	// ErrDecrypt is returned when a value cannot be authenticated under the current key.
	ErrDecrypt = errors.New("encryption: authentication failed")
)

var encoding = base64.RawURLEncoding

// Codec performs authenticated encryption of string fields. It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// DeriveKey stretches secret+salt into a 256-bit key.
func DeriveKey(secret, salt string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(salt), KDFIterations, keyLength, sha256.New)
}

// NewCodec derives the key from secret and salt. Both must be non-empty.
func NewCodec(secret, salt string) (*Codec, error) {
	if secret == "" || salt == "" {
		return nil, ErrMissingKeyMaterial
	}
	return NewCodecWithKey(DeriveKey(secret, salt))
}

// NewCodecWithKey builds a codec from an already derived 32-byte key.
func NewCodecWithKey(key []byte) (*Codec, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("encryption: key must be %d bytes, got %d", keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption: gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// IsEncrypted reports whether s carries the ciphertext marker.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Marker)
}

// Encrypt seals plaintext. Empty input and values that are already sealed are
// returned unchanged, so it is safe on fields that may hold stored ciphertext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}
	return c.Seal(plaintext)
}

// Seal always encrypts non-empty input, even when it already looks sealed.
func (c *Codec) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("encryption: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Marker + encoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Empty input is returned unchanged.
// Anything that is not a valid ciphertext under this key yields ErrDecrypt.
func (c *Codec) Decrypt(token string) (string, error) {
	if token == "" {
		return token, nil
	}
	if !IsEncrypted(token) {
		return "", fmt.Errorf("%w: missing %q marker", ErrDecrypt, Marker)
	}
	raw, err := encoding.DecodeString(token[len(Marker):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// EncryptBytes seals an opaque blob, used for cached snapshots.
func (c *Codec) EncryptBytes(b []byte) ([]byte, error) {
	s, err := c.Seal(string(b))
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// DecryptBytes opens a blob sealed by EncryptBytes.
func (c *Codec) DecryptBytes(b []byte) ([]byte, error) {
	s, err := c.Decrypt(string(b))
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}
