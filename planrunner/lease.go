package planrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/agentplan/libkvstore"
	"github.com/google/uuid"
)

// ErrLeaseHeld means another drive loop currently owns the plan. Callers
// treat it as benign: the owning loop will pick up any pending work.
var ErrLeaseHeld = errors.New("planrunner: plan lease held by another runner")

// planLease guarantees at most one active drive loop per plan id. The
// lease lives in the KV store so separate processes contend on it too;
// the TTL releases leases orphaned by a crash.
type planLease struct {
	kv  libkvstore.KVManager
	ttl time.Duration
}

func leaseKey(planID string) string {
	return "plan-lease:" + planID
}

// acquire takes the lease or returns ErrLeaseHeld. The returned release
// func is safe to call exactly once, after the drive loop exits.
func (l *planLease) acquire(ctx context.Context, planID string) (func(), error) {
	exec, err := l.kv.Executor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get kv executor: %w", err)
	}
	holder := uuid.NewString()
	ok, err := exec.SetIfNotExists(ctx, leaseKey(planID), []byte(holder), l.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire plan lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	release := func() {
		// Release happens on a fresh context: the drive loop's context may
		// already be cancelled when we get here.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exec, err := l.kv.Executor(releaseCtx)
		if err != nil {
			return
		}
		current, err := exec.Get(releaseCtx, leaseKey(planID))
		if err != nil || string(current) != holder {
			return
		}
		_ = exec.Delete(releaseCtx, leaseKey(planID))
	}
	return release, nil
}
