package libroutine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/contenox/agentplan/libroutine"
	"github.com/stretchr/testify/require"
)

func TestUnit_GroupIsSingleton(t *testing.T) {
	require.Same(t, libroutine.GetGroup(), libroutine.GetGroup())
}

func TestUnit_GroupStartLoop(t *testing.T) {
	group := libroutine.GetGroup()
	ctx := t.Context()

	t.Run("starts and tracks a loop", func(t *testing.T) {
		key := "resume-cycle"
		var mu sync.Mutex
		var calls int

		group.StartLoop(ctx, &libroutine.LoopConfig{
			Key:          key,
			Threshold:    2,
			ResetTimeout: 100 * time.Millisecond,
			Interval:     10 * time.Millisecond,
			Operation: func(ctx context.Context) error {
				mu.Lock()
				calls++
				mu.Unlock()
				return nil
			},
		})

		time.Sleep(25 * time.Millisecond)

		mu.Lock()
		require.GreaterOrEqual(t, calls, 1)
		mu.Unlock()
		require.True(t, group.IsLoopActive(key))
	})

	t.Run("second StartLoop with the same key is a no-op", func(t *testing.T) {
		key := "resume-cycle-dup"
		var mu sync.Mutex
		var calls int
		op := func(ctx context.Context) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		}

		group.StartLoop(ctx, &libroutine.LoopConfig{
			Key: key, Threshold: 1, ResetTimeout: time.Second,
			Interval: 10 * time.Millisecond, Operation: op,
		})
		group.StartLoop(ctx, &libroutine.LoopConfig{
			Key: key, Threshold: 1, ResetTimeout: time.Second,
			Interval: 10 * time.Millisecond, Operation: op,
		})

		time.Sleep(25 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		require.GreaterOrEqual(t, calls, 1)
		// A duplicate loop would roughly double the call rate.
		require.LessOrEqual(t, calls, 3)
	})

	t.Run("cancelled context removes the loop", func(t *testing.T) {
		key := "resume-cycle-cleanup"
		loopCtx, cancel := context.WithCancel(ctx)

		group.StartLoop(loopCtx, &libroutine.LoopConfig{
			Key: key, Threshold: 1, ResetTimeout: time.Second,
			Interval: 10 * time.Millisecond,
			Operation: func(ctx context.Context) error {
				return nil
			},
		})

		time.Sleep(10 * time.Millisecond)
		cancel()
		time.Sleep(50 * time.Millisecond)

		require.False(t, group.IsLoopActive(key))
	})

	t.Run("concurrent StartLoop calls race to one loop", func(t *testing.T) {
		key := "resume-cycle-race"
		var wg sync.WaitGroup
		var mu sync.Mutex
		var calls int

		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				group.StartLoop(ctx, &libroutine.LoopConfig{
					Key: key, Threshold: 1, ResetTimeout: time.Second,
					Interval: 10 * time.Millisecond,
					Operation: func(ctx context.Context) error {
						mu.Lock()
						calls++
						mu.Unlock()
						return nil
					},
				})
			}()
		}
		wg.Wait()
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		require.GreaterOrEqual(t, calls, 1)
		require.LessOrEqual(t, calls, 6)
	})
}

func TestUnit_GroupBreakerOpensAndProbes(t *testing.T) {
	group := libroutine.GetGroup()
	ctx := context.Background()

	key := "failing-cycle"
	resetTimeout := 100 * time.Millisecond

	group.StartLoop(ctx, &libroutine.LoopConfig{
		Key:          key,
		Threshold:    3,
		ResetTimeout: resetTimeout,
		Interval:     10 * time.Millisecond,
		Operation: func(ctx context.Context) error {
			return errors.New("db gone")
		},
	})

	time.Sleep(50 * time.Millisecond)

	manager := group.GetManager(key)
	require.NotNil(t, manager)
	require.Equal(t, libroutine.Open, manager.GetState())

	// After the reset window the breaker probes: poll for HalfOpen fast
	// enough to catch the state before the probe resolves.
	timeout := time.After(resetTimeout + 500*time.Millisecond)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timeout:
			t.Fatal("never observed the half-open state")
		case <-ticker.C:
			if manager.GetState() == libroutine.HalfOpen {
				return
			}
		}
	}
}

func TestUnit_GroupKeepsFirstParameters(t *testing.T) {
	group := libroutine.GetGroup()
	ctx := context.Background()

	key := "param-pin"
	group.StartLoop(ctx, &libroutine.LoopConfig{
		Key: key, Threshold: 2, ResetTimeout: 100 * time.Millisecond,
		Interval: 10 * time.Millisecond,
		Operation: func(ctx context.Context) error {
			return nil
		},
	})
	// Different parameters under the same key must not reconfigure the
	// running loop.
	group.StartLoop(ctx, &libroutine.LoopConfig{
		Key: key, Threshold: 5, ResetTimeout: 200 * time.Millisecond,
		Interval: 20 * time.Millisecond,
		Operation: func(ctx context.Context) error {
			return nil
		},
	})

	manager := group.GetManager(key)
	require.NotNil(t, manager)
	require.Equal(t, 2, manager.GetThreshold())
	require.Equal(t, 100*time.Millisecond, manager.GetResetTimeout())
}

func TestUnit_GroupForceUpdateClosesRecoveredBreaker(t *testing.T) {
	group := libroutine.GetGroup()
	ctx := context.Background()

	key := "recovering-cycle"
	var mu sync.Mutex
	var runs int
	failed := make(chan struct{}, 1)

	group.StartLoop(ctx, &libroutine.LoopConfig{
		Key:          key,
		Threshold:    1,
		ResetTimeout: 50 * time.Millisecond,
		Interval:     5 * time.Millisecond,
		Operation: func(ctx context.Context) error {
			mu.Lock()
			runs++
			first := runs == 1
			mu.Unlock()
			if first {
				select {
				case failed <- struct{}{}:
				default:
				}
				return errors.New("fail once")
			}
			return nil
		},
	})

	select {
	case <-failed:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("the failing run never happened")
	}

	manager := group.GetManager(key)
	require.NotNil(t, manager)
	require.Equal(t, libroutine.Open, manager.GetState())

	timeout := time.After(500 * time.Millisecond)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
waitHalfOpen:
	for {
		select {
		case <-timeout:
			t.Fatal("never observed the half-open state")
		case <-ticker.C:
			if manager.GetState() == libroutine.HalfOpen {
				break waitHalfOpen
			}
		}
	}

	group.ForceUpdate(key)
	time.Sleep(25 * time.Millisecond)
	require.Equal(t, libroutine.Closed, manager.GetState())
}
