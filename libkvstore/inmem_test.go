package libkvstore_test

import (
	"context"
	"testing"
	"time"

	libkv "github.com/contenox/agentplan/libkvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInMemExec(t *testing.T) (context.Context, libkv.KVExec) {
	t.Helper()
	ctx := context.Background()
	manager := libkv.NewInMem()
	t.Cleanup(func() { require.NoError(t, manager.Close()) })
	kv, err := manager.Executor(ctx)
	require.NoError(t, err)
	return ctx, kv
}

func TestUnit_InMemCRUD(t *testing.T) {
	ctx, kv := newInMemExec(t)

	require.NoError(t, kv.Set(ctx, "k", []byte("v")))

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, libkv.ErrNotFound)
}

func TestUnit_InMemTTLExpires(t *testing.T) {
	ctx, kv := newInMemExec(t)

	require.NoError(t, kv.SetWithTTL(ctx, "short", []byte("v"), 20*time.Millisecond))

	got, err := kv.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(30 * time.Millisecond)
	_, err = kv.Get(ctx, "short")
	assert.ErrorIs(t, err, libkv.ErrNotFound)
}

func TestUnit_InMemLease(t *testing.T) {
	ctx, kv := newInMemExec(t)

	acquired, err := kv.SetIfNotExists(ctx, "lease", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = kv.SetIfNotExists(ctx, "lease", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	holder, err := kv.Get(ctx, "lease")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), holder)
}

func TestUnit_InMemLeaseExpiryAllowsReacquire(t *testing.T) {
	ctx, kv := newInMemExec(t)

	acquired, err := kv.SetIfNotExists(ctx, "lease", []byte("a"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(20 * time.Millisecond)

	acquired, err = kv.SetIfNotExists(ctx, "lease", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestUnit_InMemListAndSet(t *testing.T) {
	ctx, kv := newInMemExec(t)

	require.NoError(t, kv.ListPush(ctx, "log", []byte("one")))
	require.NoError(t, kv.ListPush(ctx, "log", []byte("two")))

	items, err := kv.ListRange(ctx, "log", 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []byte("two"), items[0])

	require.NoError(t, kv.SetAdd(ctx, "s", []byte("m")))
	require.NoError(t, kv.SetAdd(ctx, "s", []byte("m")))
	members, err := kv.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}
