package libroutine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call.
var ErrCircuitOpen = errors.New("libroutine: circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Routine is a circuit breaker around a repeatable operation. After
// `threshold` consecutive failures the circuit opens; after `resetTimeout`
// a single test call is let through (half-open) to probe recovery.
type Routine struct {
	mu             sync.Mutex
	state          State
	failures       int
	threshold      int
	resetTimeout   time.Duration
	openedAt       time.Time
	testInProgress bool
}

// NewRoutine creates a circuit breaker with the given failure threshold and
// reset timeout.
func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	if threshold < 1 {
		threshold = 1
	}
	return &Routine{
		state:        Closed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// Allow reports whether a call may proceed right now. Moving from Open to
// HalfOpen happens here, once the reset timeout has elapsed.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Closed:
		return true
	case Open:
		if time.Since(r.openedAt) >= r.resetTimeout {
			r.state = HalfOpen
			r.testInProgress = false
			return true
		}
		return false
	case HalfOpen:
		if r.testInProgress {
			return false
		}
		r.testInProgress = true
		return true
	}
	return false
}

// Execute runs fn under the breaker. Returns ErrCircuitOpen when rejected.
func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	if err != nil {
		r.markFailure()
		return err
	}
	r.markSuccess()
	return nil
}

// ExecuteWithRetry runs fn up to maxAttempts times with exponentially growing
// sleeps (baseDelay, 2x per attempt) between failures. An open circuit aborts
// immediately; a canceled context aborts during the sleep.
func (r *Routine) ExecuteWithRetry(ctx context.Context, baseDelay time.Duration, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := r.Execute(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// Loop runs fn immediately and then on every interval tick or trigger message
// until ctx is done. Every execution outcome (including ErrCircuitOpen) is
// passed to errHandler.
func (r *Routine) Loop(ctx context.Context, interval time.Duration, trigger <-chan struct{}, fn func(ctx context.Context) error, errHandler func(error)) {
	run := func() {
		if err := r.Execute(ctx, fn); err != nil {
			log.Printf("libroutine: loop execution failed: %v", err)
			if errHandler != nil {
				errHandler(err)
			}
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			run()
		case <-ticker.C:
			run()
		}
	}
}

func (r *Routine) markSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failures = 0
	r.testInProgress = false
}

func (r *Routine) markFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	if r.state == HalfOpen || r.failures >= r.threshold {
		r.state = Open
		r.openedAt = time.Now()
		r.testInProgress = false
	}
}

// ForceOpen opens the circuit regardless of failure count.
func (r *Routine) ForceOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Open
	r.openedAt = time.Now()
	r.testInProgress = false
}

// ForceClose closes the circuit and clears the failure count.
func (r *Routine) ForceClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failures = 0
	r.testInProgress = false
}

func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Routine) GetThreshold() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

func (r *Routine) GetResetTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetTimeout
}
