package libkvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMem is an in-memory implementation of KVManager for single-process use.
// TTLs are enforced lazily on access.
type InMem struct {
	mu     sync.RWMutex
	closed bool

	values  map[string]entry
	lists   map[string][][]byte
	sets    map[string]map[string]struct{}
}

type entry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewInMem returns a new in-memory KVManager. Use for local single-process
// mode and tests (no valkey).
func NewInMem() *InMem {
	return &InMem{
		values: make(map[string]entry),
		lists:  make(map[string][][]byte),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (m *InMem) Executor(ctx context.Context) (KVExec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrConnectionClosed
	}
	return &inmemExec{m: m}, nil
}

func (m *InMem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type inmemExec struct {
	m *InMem
}

func (e *inmemExec) Set(ctx context.Context, key string, value []byte) error {
	return e.SetWithTTL(ctx, key, value, 0)
}

func (e *inmemExec) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	if e.m.closed {
		return ErrConnectionClosed
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	e.m.values[key] = entry{data: append([]byte(nil), value...), expiresAt: expires}
	return nil
}

func (e *inmemExec) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	e.m.mu.Lock()
	if e.m.closed {
		e.m.mu.Unlock()
		return false, ErrConnectionClosed
	}
	if existing, ok := e.m.values[key]; ok && !existing.expired(time.Now()) {
		e.m.mu.Unlock()
		return false, nil
	}
	e.m.mu.Unlock()
	return true, e.SetWithTTL(ctx, key, value, ttl)
}

func (e *inmemExec) Get(_ context.Context, key string) ([]byte, error) {
	e.m.mu.RLock()
	defer e.m.mu.RUnlock()
	ent, ok := e.m.values[key]
	if !ok || ent.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), ent.data...), nil
}

func (e *inmemExec) Exists(ctx context.Context, key string) (bool, error) {
	_, err := e.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *inmemExec) Delete(_ context.Context, key string) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	delete(e.m.values, key)
	return nil
}

func (e *inmemExec) List(_ context.Context, prefix string) ([]string, error) {
	e.m.mu.RLock()
	defer e.m.mu.RUnlock()
	now := time.Now()
	var keys []string
	for k, ent := range e.m.values {
		if strings.HasPrefix(k, prefix) && !ent.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (e *inmemExec) ListPush(_ context.Context, key string, value []byte) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	// LPUSH semantics: newest first
	e.m.lists[key] = append([][]byte{append([]byte(nil), value...)}, e.m.lists[key]...)
	return nil
}

func (e *inmemExec) ListTrim(_ context.Context, key string, start, stop int64) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	list := e.m.lists[key]
	from, to := clampRange(start, stop, int64(len(list)))
	if from > to {
		delete(e.m.lists, key)
		return nil
	}
	e.m.lists[key] = list[from : to+1]
	return nil
}

func (e *inmemExec) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	e.m.mu.RLock()
	defer e.m.mu.RUnlock()
	list := e.m.lists[key]
	from, to := clampRange(start, stop, int64(len(list)))
	if from > to {
		return nil, nil
	}
	out := make([][]byte, 0, to-from+1)
	for _, item := range list[from : to+1] {
		out = append(out, append([]byte(nil), item...))
	}
	return out, nil
}

func (e *inmemExec) ListLength(_ context.Context, key string) (int64, error) {
	e.m.mu.RLock()
	defer e.m.mu.RUnlock()
	return int64(len(e.m.lists[key])), nil
}

func (e *inmemExec) SetAdd(_ context.Context, key string, member []byte) error {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	if e.m.sets[key] == nil {
		e.m.sets[key] = make(map[string]struct{})
	}
	e.m.sets[key][string(member)] = struct{}{}
	return nil
}

func (e *inmemExec) SetMembers(_ context.Context, key string) ([][]byte, error) {
	e.m.mu.RLock()
	defer e.m.mu.RUnlock()
	members := make([]string, 0, len(e.m.sets[key]))
	for member := range e.m.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	out := make([][]byte, 0, len(members))
	for _, member := range members {
		out = append(out, []byte(member))
	}
	return out, nil
}

func clampRange(start, stop, length int64) (int64, int64) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}

var _ KVManager = (*InMem)(nil)
var _ KVExec = (*inmemExec)(nil)
