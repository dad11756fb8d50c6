package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func Test_BcryptHasher(t *testing.T) {
	t.Parallel()

	h := BcryptHasher{Cost: bcrypt.MinCost}

	t.Run("hash password", func(t *testing.T) {
		got, err := h.Hash("password")
		require.NoError(t, err)

		require.Len(t, got, 60, "bcrypt length is 60 letters as far as i know")
		require.Equal(t, "$2a$", got[:4], "bcrypt has should have prefix '$2a$'")
	})

	t.Run("same password different hashes", func(t *testing.T) {
		first, err := h.Hash("password")
		require.NoError(t, err)
		second, err := h.Hash("password")
		require.NoError(t, err)

		require.NotEqual(t, first, second, "hash is salted")
	})

	t.Run("empty password fail", func(t *testing.T) {
		_, err := h.Hash("")

		require.Error(t, err)
	})

	t.Run("verify password ok", func(t *testing.T) {
		hash, err := h.Hash("password")
		require.NoError(t, err)

		require.True(t, h.Verify(hash, "password"))
	})

	t.Run("verify wrong password fail", func(t *testing.T) {
		hash, err := h.Hash("password")
		require.NoError(t, err)

		require.False(t, h.Verify(hash, "wrong"))
	})

	t.Run("verify malformed hash fail", func(t *testing.T) {
		require.False(t, h.Verify("not-a-bcrypt-hash", "password"))
		require.False(t, h.Verify("", "password"))
	})

	t.Run("long passwords are not truncated", func(t *testing.T) {
		long := strings.Repeat("a", 100)
		hash, err := h.Hash(long + "1")
		require.NoError(t, err)

		require.False(t, h.Verify(hash, long+"2"), "passwords differ after 72 bytes")
	})
}
