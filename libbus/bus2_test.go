package libbus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	libbus "github.com/contenox/agentplan/libbus"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestSystem_PublishCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	err = ps.Publish(ctx, "plans.status", []byte("event"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSystem_StreamCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	_, err = ps.Stream(ctx, "plans.status", make(chan []byte, 1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSystem_RequestCancelledMidFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	// The handler outsleeps the cancellation below.
	sub, err := ps.Serve(ctx, "plans.slow", func(ctx context.Context, data []byte) ([]byte, error) {
		time.Sleep(500 * time.Millisecond)
		return []byte("too late"), nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	errCh := make(chan error, 1)
	go func() {
		_, err := ps.Request(ctx, "plans.slow", []byte("ping"))
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("request never returned after cancellation")
	}
}

func TestSystem_StreamAfterClose(t *testing.T) {
	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	require.NoError(t, ps.Close())
	cleanup()

	_, err = ps.Stream(context.Background(), "plans.status", make(chan []byte, 1))
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
}

func TestSystem_ServeAfterClose(t *testing.T) {
	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	require.NoError(t, ps.Close())
	cleanup()

	_, err = ps.Serve(context.Background(), "plans.inspect", func(ctx context.Context, data []byte) ([]byte, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
}

func TestSystem_RequestNoResponderWithoutDeadline(t *testing.T) {
	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	_, err = ps.Request(context.Background(), "plans.nobody-home", []byte("ping"))
	require.ErrorIs(t, err, nats.ErrNoResponders)
}

func TestSystem_UnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	ch := make(chan []byte, 1)
	sub, err := ps.Stream(ctx, "plans.status", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, ps.Publish(ctx, "plans.status", []byte("event")))

	select {
	case <-ch:
		t.Fatal("received an event after unsubscribing")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSystem_ServeStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	handlerCalled := false
	_, err = ps.Serve(ctx, "plans.inspect", func(ctx context.Context, data []byte) ([]byte, error) {
		handlerCalled = true
		return []byte("reply"), nil
	})
	require.NoError(t, err)

	cancel()
	time.Sleep(100 * time.Millisecond)

	_, err = ps.Request(context.Background(), "plans.inspect", []byte("ping"))
	require.ErrorIs(t, err, nats.ErrNoResponders)
	require.False(t, handlerCalled)
}

func TestSystem_ServeRecoversHandlerPanic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	sub, err := ps.Serve(ctx, "plans.panicky", func(ctx context.Context, data []byte) ([]byte, error) {
		panic("tool blew up")
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := ps.Request(ctx, "plans.panicky", []byte("ping"))
	require.NoError(t, err)
	require.Contains(t, string(reply), fmt.Sprintf("error: handler panic: %s", "tool blew up"))
}

func TestSystem_ConcurrentUnsubscribeAndRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps, cleanup, err := libbus.NewTestPubSub()
	require.NoError(t, err)
	defer cleanup()

	sub, err := ps.Serve(ctx, "plans.inspect", func(ctx context.Context, data []byte) ([]byte, error) {
		return []byte("reply"), nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, sub.Unsubscribe())
	}()
	go func() {
		defer wg.Done()
		// Wins or loses the race; either way nothing may panic.
		_, _ = ps.Request(ctx, "plans.inspect", []byte("ping"))
	}()
	wg.Wait()
}
