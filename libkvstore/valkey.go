package libkvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

type valkeyManager struct {
	client  valkey.Client
	timeout time.Duration
}

// NewManager connects to a valkey instance and returns a KVManager.
// timeout bounds individual operations issued through executors.
func NewManager(cfg Config, timeout time.Duration) (KVManager, error) {
	opt := valkey.ClientOption{
		InitAddress: []string{cfg.KVAddr},
	}
	if cfg.KVPassword != "" {
		opt.Password = cfg.KVPassword
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return &valkeyManager{client: client, timeout: timeout}, nil
}

func (m *valkeyManager) Executor(ctx context.Context) (KVExec, error) {
	if m.client == nil {
		return nil, ErrConnectionClosed
	}
	return &valkeyExec{client: m.client, timeout: m.timeout}, nil
}

func (m *valkeyManager) Close() error {
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	return nil
}

type valkeyExec struct {
	client  valkey.Client
	timeout time.Duration
}

func (e *valkeyExec) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *valkeyExec) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()).Error()
}

func (e *valkeyExec) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Px(ttl).Build()).Error()
}

func (e *valkeyExec) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	cmd := e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Nx()
	var res valkey.ValkeyResult
	if ttl > 0 {
		res = e.client.Do(ctx, cmd.Px(ttl).Build())
	} else {
		res = e.client.Do(ctx, cmd.Build())
	}
	if err := res.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *valkeyExec) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	data, err := e.client.Do(ctx, e.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (e *valkeyExec) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	n, err := e.client.Do(ctx, e.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e *valkeyExec) Delete(ctx context.Context, key string) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Del().Key(key).Build()).Error()
}

func (e *valkeyExec) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	keys, err := e.client.Do(ctx, e.client.B().Keys().Pattern(prefix+"*").Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (e *valkeyExec) ListPush(ctx context.Context, key string, value []byte) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Lpush().Key(key).Element(valkey.BinaryString(value)).Build()).Error()
}

func (e *valkeyExec) ListTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Ltrim().Key(key).Start(start).Stop(stop).Build()).Error()
}

func (e *valkeyExec) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	items, err := e.client.Do(ctx, e.client.B().Lrange().Key(key).Start(start).Stop(stop).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		out = append(out, []byte(item))
	}
	return out, nil
}

func (e *valkeyExec) ListLength(ctx context.Context, key string) (int64, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Llen().Key(key).Build()).AsInt64()
}

func (e *valkeyExec) SetAdd(ctx context.Context, key string, member []byte) error {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	return e.client.Do(ctx, e.client.B().Sadd().Key(key).Member(valkey.BinaryString(member)).Build()).Error()
}

func (e *valkeyExec) SetMembers(ctx context.Context, key string) ([][]byte, error) {
	ctx, cancel := e.opCtx(ctx)
	defer cancel()
	items, err := e.client.Do(ctx, e.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		out = append(out, []byte(item))
	}
	return out, nil
}

var _ KVManager = (*valkeyManager)(nil)
var _ KVExec = (*valkeyExec)(nil)
