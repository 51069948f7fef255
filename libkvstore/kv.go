package libkvstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("libkv: key not found")
	ErrConnectionClosed = errors.New("libkv: connection closed")
)

// KVExec is the operation surface of the key-value store.
type KVExec interface {
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfNotExists writes key only when absent; returns true when the write
	// happened. Used for lease acquisition.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)

	ListPush(ctx context.Context, key string, value []byte) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	ListLength(ctx context.Context, key string) (int64, error)

	SetAdd(ctx context.Context, key string, member []byte) error
	SetMembers(ctx context.Context, key string) ([][]byte, error)
}

// KVManager hands out executors bound to the underlying store.
type KVManager interface {
	Executor(ctx context.Context) (KVExec, error)
	Close() error
}

// Config holds connection settings for the valkey-backed manager.
type Config struct {
	KVAddr     string
	KVPassword string
}
