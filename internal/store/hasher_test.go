package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/itzluthfi/tower-defense/internal/store"
)

func TestBcryptHasher(t *testing.T) {
	h := store.NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.NoError(t, h.Compare(hash, "hunter2"))
	assert.ErrorIs(t, h.Compare(hash, "hunter3"), store.ErrInvalidCredentials)

	err = h.Compare("not-a-bcrypt-hash", "hunter2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrInvalidCredentials)
}

func TestNewBcryptHasher_DefaultCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, store.NewBcryptHasher(0).Cost)
}
