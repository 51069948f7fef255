package libkvstore_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	libkv "github.com/contenox/agentplan/libkvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/valkey"
)

func setupLocalValkeyInstance(ctx context.Context) (string, testcontainers.Container, func(), error) {
	cleanup := func() {}

	container, err := valkey.Run(ctx, "docker.io/valkey/valkey:7.2.5")
	if err != nil {
		return "", nil, cleanup, err
	}

	cleanup = func() {
		timeout := time.Second
		if err := container.Stop(ctx, &timeout); err != nil {
			panic(err)
		}
	}

	conn, err := container.ConnectionString(ctx)
	if err != nil {
		return "", nil, cleanup, err
	}
	return conn, container, cleanup, nil
}

func newValkeyExec(t *testing.T) (context.Context, libkv.KVExec) {
	t.Helper()
	ctx := context.Background()

	connStr, _, cleanup, err := setupLocalValkeyInstance(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	u, err := url.Parse(connStr)
	require.NoError(t, err)

	manager, err := libkv.NewManager(libkv.Config{KVAddr: u.Host}, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, manager.Close()) })

	kv, err := manager.Executor(ctx)
	require.NoError(t, err)
	return ctx, kv
}

func TestSystem_ValkeyCRUD(t *testing.T) {
	ctx, kv := newValkeyExec(t)

	key := "testkey"
	value := []byte(`"testvalue"`)

	require.NoError(t, kv.Set(ctx, key, value))

	retrieved, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, retrieved)

	exists, err := kv.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, kv.Delete(ctx, key))

	_, err = kv.Get(ctx, key)
	assert.ErrorIs(t, err, libkv.ErrNotFound)

	exists, err = kv.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSystem_ValkeyTTL(t *testing.T) {
	ctx, kv := newValkeyExec(t)

	require.NoError(t, kv.SetWithTTL(ctx, "ttlkey", []byte(`"ttlvalue"`), 2*time.Second))

	time.Sleep(3 * time.Second)

	_, err := kv.Get(ctx, "ttlkey")
	assert.ErrorIs(t, err, libkv.ErrNotFound)
}

func TestSystem_ValkeyLease(t *testing.T) {
	ctx, kv := newValkeyExec(t)

	acquired, err := kv.SetIfNotExists(ctx, "lease:plan-1", []byte("holder-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// A second acquire on a live lease must fail.
	acquired, err = kv.SetIfNotExists(ctx, "lease:plan-1", []byte("holder-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	holder, err := kv.Get(ctx, "lease:plan-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("holder-a"), holder)

	require.NoError(t, kv.Delete(ctx, "lease:plan-1"))

	acquired, err = kv.SetIfNotExists(ctx, "lease:plan-1", []byte("holder-b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestSystem_ValkeyList(t *testing.T) {
	ctx, kv := newValkeyExec(t)

	require.NoError(t, kv.ListPush(ctx, "log", []byte("first")))
	require.NoError(t, kv.ListPush(ctx, "log", []byte("second")))
	require.NoError(t, kv.ListPush(ctx, "log", []byte("third")))

	length, err := kv.ListLength(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)

	// LPUSH semantics: newest first
	items, err := kv.ListRange(ctx, "log", 0, -1)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []byte("third"), items[0])

	require.NoError(t, kv.ListTrim(ctx, "log", 0, 1))
	length, err = kv.ListLength(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}

func TestSystem_ValkeySet(t *testing.T) {
	ctx, kv := newValkeyExec(t)

	require.NoError(t, kv.SetAdd(ctx, "ops", []byte("a")))
	require.NoError(t, kv.SetAdd(ctx, "ops", []byte("b")))
	require.NoError(t, kv.SetAdd(ctx, "ops", []byte("a")))

	members, err := kv.SetMembers(ctx, "ops")
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, members)
}
