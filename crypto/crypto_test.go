package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		errPart string
	}{
		{"empty key", "", "encryption key is empty"},
		{"invalid base64", "not-valid-base64!@#$", "base64 decode failed"},
		{"key too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), "must be 32 bytes"},
		{"key too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), "must be 32 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipher("k1", tt.key)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher("", randomKey(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultKeyID, c.KeyID())

	for _, plain := range []string{"oauth-access-token", "ü–unicode–🔑", strings.Repeat("x", 4096)} {
		sealed, err := c.Seal(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, sealed)
		opened, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}

	empty, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSealUsesFreshNonce(t *testing.T) {
	c, err := NewCipher("k1", randomKey(t))
	require.NoError(t, err)
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	assert.NotEqual(t, a, b)
}

func TestOpenDetectsTampering(t *testing.T) {
	c, err := NewCipher("k1", randomKey(t))
	require.NoError(t, err)
	sealed, err := c.Seal("secret")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Open(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorContains(t, err, "integrity")

	_, err = c.Open(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorContains(t, err, "too short")

	other, _ := NewCipher("k2", randomKey(t))
	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestKeyringRotation(t *testing.T) {
	oldKey, newKey := randomKey(t), randomKey(t)
	before, err := ParseKeyring(oldKey, "")
	require.NoError(t, err)
	sealed, err := before.Current().Seal("refresh-token")
	require.NoError(t, err)

	after, err := ParseKeyring("2026-q2:"+newKey, DefaultKeyID+":"+oldKey)
	require.NoError(t, err)
	assert.Equal(t, "2026-q2", after.Current().KeyID())

	opened, err := after.Open(before.Current().KeyID(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", opened)

	_, err = after.Open("2025-q1", sealed)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestParseKeyringRejectsBadRetiredKey(t *testing.T) {
	_, err := ParseKeyring(randomKey(t), "old:not-base64!!")
	assert.ErrorContains(t, err, "retired key")
}
