// Package crypto seals OAuth tokens at rest with AES-256-GCM. Every sealed
// value is stored next to the id of the key that sealed it, so keys can be
// rotated while older rows stay readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultKeyID names a key configured without an explicit id.
const DefaultKeyID = "default"

// ErrUnknownKey means a row was sealed with a key the keyring does not hold.
var ErrUnknownKey = errors.New("crypto: unknown key id")

// Cipher seals and opens strings with one AES-256 key.
type Cipher struct {
	keyID string
	aead  cipher.AEAD
}

// NewCipher builds a cipher from a base64-encoded 32-byte key
// (generate one with `openssl rand -base64 32`).
func NewCipher(keyID, base64Key string) (*Cipher, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if keyID == "" {
		keyID = DefaultKeyID
	}
	return &Cipher{keyID: keyID, aead: aead}, nil
}

func (c *Cipher) KeyID() string { return c.keyID }

// Seal returns base64(nonce || ciphertext || tag). Empty input stays empty.
func (c *Cipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n+c.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		// no detail: it would only help an attacker
		return "", errors.New("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

// Keyring holds the key new values are sealed with plus retired keys that
// can still open old rows.
type Keyring struct {
	current *Cipher
	byID    map[string]*Cipher
}

func NewKeyring(current *Cipher, retired ...*Cipher) *Keyring {
	k := &Keyring{current: current, byID: map[string]*Cipher{current.keyID: current}}
	for _, c := range retired {
		if _, dup := k.byID[c.keyID]; !dup {
			k.byID[c.keyID] = c
		}
	}
	return k
}

// ParseKeyring reads keys written as "id:base64key" or a bare base64 key
// (id "default"). retired is a comma separated list in the same form.
func ParseKeyring(current, retired string) (*Keyring, error) {
	cur, err := parseKey(current)
	if err != nil {
		return nil, err
	}
	var old []*Cipher
	for _, spec := range strings.Split(retired, ",") {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		c, err := parseKey(spec)
		if err != nil {
			return nil, fmt.Errorf("retired key: %w", err)
		}
		old = append(old, c)
	}
	return NewKeyring(cur, old...), nil
}

func parseKey(spec string) (*Cipher, error) {
	spec = strings.TrimSpace(spec)
	id, key, found := strings.Cut(spec, ":")
	if !found {
		return NewCipher(DefaultKeyID, spec)
	}
	return NewCipher(id, key)
}

// Current is the cipher new values are sealed with.
func (k *Keyring) Current() *Cipher { return k.current }

// Open opens a value sealed under keyID. An empty keyID means the default key.
func (k *Keyring) Open(keyID, sealed string) (string, error) {
	if keyID == "" {
		keyID = DefaultKeyID
	}
	c, ok := k.byID[keyID]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownKey, keyID)
	}
	return c.Open(sealed)
}
