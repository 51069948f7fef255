package libbus

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
)

// SetupNatsInstance starts a throwaway NATS container for tests. Returns the
// connection URL, the container handle, and a cleanup func.
func SetupNatsInstance(ctx context.Context) (string, testcontainers.Container, func(), error) {
	cleanup := func() {}

	container, err := tcnats.Run(ctx, "docker.io/nats:2.10")
	if err != nil {
		return "", nil, cleanup, err
	}

	cleanup = func() {
		timeout := time.Second
		_ = container.Stop(ctx, &timeout)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		return "", nil, cleanup, err
	}
	return url, container, cleanup, nil
}

// NewTestPubSub starts a local NATS container and connects a Messenger to it.
// The returned cleanup tears down both.
func NewTestPubSub() (Messenger, func(), error) {
	ctx := context.Background()
	url, _, cleanup, err := SetupNatsInstance(ctx)
	if err != nil {
		return nil, cleanup, err
	}
	ps, err := NewPubSub(ctx, &Config{NATSURL: url})
	if err != nil {
		return nil, cleanup, err
	}
	teardown := func() {
		_ = ps.Close()
		cleanup()
	}
	return ps, teardown, nil
}
