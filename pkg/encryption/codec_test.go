package encryption

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	codecOnce sync.Once
	shared    *Codec
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	codecOnce.Do(func() {
		c, err := NewCodec("test-secret", "test-salt")
		require.NoError(t, err)
		shared = c
	})
	return shared
}

func TestNewCodecRequiresKeyMaterial(t *testing.T) {
	_, err := NewCodec("", "salt")
	assert.ErrorIs(t, err, ErrMissingKeyMaterial)
	_, err = NewCodec("secret", "")
	assert.ErrorIs(t, err, ErrMissingKeyMaterial)
}

func TestNewCodecWithKeyRejectsShortKey(t *testing.T) {
	_, err := NewCodecWithKey([]byte("short"))
	assert.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey("secret", "salt")
	b := DeriveKey("secret", "salt")
	c := DeriveKey("secret", "pepper")
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEncryptRoundTrip(t *testing.T) {
	c := testCodec(t)
	for _, plain := range []string{"123.456.789-09", "Rua das Flores", "São Paulo", "SP", strings.Repeat("x", 4096)} {
		sealed, err := c.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, sealed)
		assert.True(t, IsEncrypted(sealed))

		opened, err := c.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := testCodec(t)
	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncryptIsIdempotent(t *testing.T) {
	c := testCodec(t)
	sealed, err := c.Encrypt("01310-100")
	require.NoError(t, err)

	again, err := c.Encrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again)
}

func TestSealIgnoresMarkerInPlaintext(t *testing.T) {
	c := testCodec(t)
	lookalike := Marker + "Rua Nova"

	sealed, err := c.Seal(lookalike)
	require.NoError(t, err)
	assert.NotEqual(t, lookalike, sealed)

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, lookalike, opened)
}

func TestEmptyPassesThrough(t *testing.T) {
	c := testCodec(t)
	sealed, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", sealed)

	opened, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", opened)
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	c := testCodec(t)
	other, err := NewCodecWithKey(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	sealed, err := c.Encrypt("secret data")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptRejectsCorruptedInput(t *testing.T) {
	c := testCodec(t)
	sealed, err := c.Encrypt("secret data")
	require.NoError(t, err)

	tampered := []byte(sealed)
	pos := len(Marker) + 16
	if tampered[pos] == 'A' {
		tampered[pos] = 'B'
	} else {
		tampered[pos] = 'A'
	}

	cases := map[string]string{
		"tampered":    string(tampered),
		"no marker":   "plain value",
		"bad base64":  Marker + "!!!",
		"too short":   Marker + "AAAA",
		"marker only": Marker,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(in)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestBytesRoundTrip(t *testing.T) {
	c := testCodec(t)
	blob := []byte(`{"id":1,"tax_id":"123.456.789-09"}`)
	sealed, err := c.EncryptBytes(blob)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, []byte("123.456")))

	opened, err := c.DecryptBytes(sealed)
	require.NoError(t, err)
	assert.Equal(t, blob, opened)
}
