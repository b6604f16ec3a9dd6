package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword_AndVerify(t *testing.T) {
	BcryptCost = bcrypt.MinCost

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse", hash)

	require.NoError(t, VerifyPassword(hash, "correct horse"))
	require.ErrorIs(t, VerifyPassword(hash, "battery staple"), ErrPasswordMismatch)
}
