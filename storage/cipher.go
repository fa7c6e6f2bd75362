package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultSecret is used when no obfuscation key is configured. It is public,
// so values encoded with it are readable by anyone.
const DefaultSecret = "1234"

// ErrDecode is returned when a stored value cannot be decoded.
var ErrDecode = errors.New("storage: value cannot be decoded")

// Cipher obfuscates stored values with AES-GCM keyed by a SHA-256 of the
// secret and emits base64 text. The key ships with the application, so this
// hides values from casual inspection only and offers no confidentiality.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a Cipher from secret, falling back to DefaultSecret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		secret = DefaultSecret
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encode(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

func (c *Cipher) Decode(stored []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(stored)))
	n, err := base64.StdEncoding.Decode(raw, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	raw = raw[:n]
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return nil, fmt.Errorf("%w: value too short", ErrDecode)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return plain, nil
}
