package libcipher_test

import (
	"crypto/sha256"
	"testing"

	"github.com/contenox/agentplan/libcipher"
	"github.com/stretchr/testify/require"
)

func TestUnit_CheckHash(t *testing.T) {
	hash, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte("step-a"),
		SigningKey: []byte("token-secret"),
		Salt:       []byte("plan-1"),
	}, sha256.New)
	require.NoError(t, err)

	ok, err := libcipher.CheckHash("token-secret", "plan-1", "step-a", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = libcipher.CheckHash("token-secret", "plan-1", "step-b", hash)
	require.NoError(t, err)
	require.False(t, ok, "a different payload must not verify")
}
