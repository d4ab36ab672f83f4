package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key, err := DeriveKey("keystore password", salt, 1000)
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	sealed, err := Seal([]byte("private key bytes"), key)
	require.NoError(t, err)

	plain, err := Open(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "private key bytes", string(plain))
}

func TestOpen_WrongKey(t *testing.T) {
	salt, _ := NewSalt()
	key, _ := DeriveKey("right", salt, 1000)
	other, _ := DeriveKey("wrong", salt, 1000)

	sealed, err := Seal([]byte("secret"), key)
	require.NoError(t, err)

	_, err = Open(sealed, other)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	_, err = Open([]byte("short"), key)
	assert.ErrorIs(t, err, ErrInvalidCipherText)
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a, err := DeriveKey("pw", salt, 1000)
	require.NoError(t, err)
	b, err := DeriveKey("pw", salt, 1000)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = DeriveKey("", salt, 1000)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = Seal([]byte("x"), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
