package libcipher_test

import (
	"crypto/sha256"
	"testing"

	"github.com/contenox/agentplan/libcipher"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUnit_NewHashProducesOutput(t *testing.T) {
	hash, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte("step-" + uuid.NewString()),
		SigningKey: []byte("token-secret"),
		Salt:       []byte(uuid.NewString()),
	}, sha256.New)
	require.NoError(t, err)
	require.NotEmpty(t, hash)
}

func TestUnit_NewHashIsDeterministic(t *testing.T) {
	// Idempotency tokens rely on this: the same step under the same plan
	// always hashes to the same value.
	args := libcipher.GenerateHashArgs{
		Payload:    []byte("step-a"),
		SigningKey: []byte("token-secret"),
		Salt:       []byte("plan-1"),
	}
	first, err := libcipher.NewHash(args, sha256.New)
	require.NoError(t, err)
	second, err := libcipher.NewHash(args, sha256.New)
	require.NoError(t, err)
	require.True(t, libcipher.Equal(first, second))
}

func TestUnit_SaltSeparatesHashes(t *testing.T) {
	// The same step id under two different plans must not collide.
	key := []byte("token-secret")
	one, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte("step-a"),
		SigningKey: key,
		Salt:       []byte("plan-1"),
	}, sha256.New)
	require.NoError(t, err)
	other, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte("step-a"),
		SigningKey: key,
		Salt:       []byte("plan-2"),
	}, sha256.New)
	require.NoError(t, err)
	require.False(t, libcipher.Equal(one, other))
}

func TestUnit_EqualRejectsTruncatedHash(t *testing.T) {
	hash, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte("step-a"),
		SigningKey: []byte("token-secret"),
		Salt:       []byte("plan-1"),
	}, sha256.New)
	require.NoError(t, err)
	require.False(t, libcipher.Equal(hash, hash[:2]))
}

func TestUnit_NewHashValidatesArgs(t *testing.T) {
	_, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		SigningKey: []byte("token-secret"),
		Salt:       []byte("plan-1"),
	}, sha256.New)
	require.ErrorIs(t, err, libcipher.ErrMissingPayload)

	_, err = libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload: []byte("step-a"),
		Salt:    []byte("plan-1"),
	}, sha256.New)
	require.ErrorIs(t, err, libcipher.ErrMissingSigningKey)

	_, err = libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte("step-a"),
		SigningKey: []byte("token-secret"),
	}, sha256.New)
	require.ErrorIs(t, err, libcipher.ErrMissingSalt)
}
