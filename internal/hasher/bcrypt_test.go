package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcrypt_HashAndVerify(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)

	hashed, err := h.Hash("Abcd1234!")
	require.NoError(t, err)
	assert.NotEqual(t, "Abcd1234!", hashed)

	ok, err := h.Verify("Abcd1234!", hashed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("Abcd1234?", hashed)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.Verify("", hashed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcrypt_FreshSaltPerHash(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)

	first, err := h.Hash("same-secret")
	require.NoError(t, err)
	second, err := h.Hash("same-secret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestBcrypt_MalformedHash(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)

	ok, err := h.Verify("secret", "not-a-bcrypt-hash")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestBcrypt_EmptySecret(t *testing.T) {
	_, err := NewBcrypt(bcrypt.MinCost).Hash("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestNewBcrypt_Cost(t *testing.T) {
	assert.Equal(t, DefaultCost, NewBcrypt(0).Cost())
	assert.Equal(t, bcrypt.MinCost, NewBcrypt(1).Cost())
	assert.Equal(t, bcrypt.MaxCost, NewBcrypt(99).Cost())
	assert.Equal(t, 12, NewBcrypt(12).Cost())

	hashed, err := NewBcrypt(5).Hash("x")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hashed))
	require.NoError(t, err)
	assert.Equal(t, 5, cost)
}
