package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, exp, err := Generate(opts, "u-alice", []string{"dm"})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Verify(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", claims.Subject())

	_, err = Verify(DefaultOptions([]byte("other")), token)
	assert.Error(t, err)
}

func TestIdentityWithoutSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("server-only")), "u-bob", nil)
	require.NoError(t, err)

	id, err := Identity(token)
	require.NoError(t, err)
	assert.Equal(t, "u-bob", id)

	_, err = Identity("")
	assert.Error(t, err)
	_, err = Identity("not.a.jwt")
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("x"), Alg: "RS256"}, "u", nil)
	assert.Error(t, err)
}
