package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestSealOpenRoundTrip(t *testing.T) {
	secret := make([]byte, 64)
	for i := range secret {
		secret[i] = byte(i)
	}

	sealed, err := Seal(secret, "correct horse")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), base58.Encode(secret))

	opened, err := Open(sealed, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	_, err = Open(sealed, "wrong")
	assert.Error(t, err)
}

func TestSealRejectsEmptyInputs(t *testing.T) {
	_, err := Seal([]byte{1}, "")
	assert.Error(t, err)
	_, err = Seal(nil, "pw")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}

	got, err := LoadSecret(KeyConfig{RawSecret: "0xdeadbeef", Encoding: EncodingHex})
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = LoadSecret(KeyConfig{RawSecret: base58.Encode(raw), Encoding: EncodingBase58})
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	sealed, err := Seal(raw, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	got, err = LoadSecret(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = LoadSecret(KeyConfig{})
	assert.Error(t, err)
}

func TestKeyring(t *testing.T) {
	k := NewKeyring()
	secret := []byte{1, 2, 3}
	k.Add("addr", secret)
	secret[0] = 9

	got, err := k.Secret("addr")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.True(t, k.Has("addr"))

	_, err = k.Secret("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
