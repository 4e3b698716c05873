package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify("wrong password", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	_, err := Verify("anything", "not-a-hash")
	require.Error(t, err)

	_, err = Verify("anything", "$bcrypt$v=19$m=65536,t=3,p=2$salt$hash")
	require.Error(t, err)
}

func TestHashResetTokenDeterministic(t *testing.T) {
	a := HashResetToken("token-one")
	b := HashResetToken("token-one")
	c := HashResetToken("token-two")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}
