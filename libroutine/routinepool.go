package libroutine

import (
	"context"
	"sync"
	"time"
)

// Group manages named circuit-breaker loops so each key drives at most one
// background goroutine process-wide.
type Group struct {
	mu       sync.Mutex
	managers map[string]*Routine
	active   map[string]bool
	triggers map[string]chan struct{}
}

var (
	groupInstance *Group
	groupOnce     sync.Once
)

// GetGroup returns the process-wide loop group.
func GetGroup() *Group {
	groupOnce.Do(func() {
		groupInstance = &Group{
			managers: make(map[string]*Routine),
			active:   make(map[string]bool),
			triggers: make(map[string]chan struct{}),
		}
	})
	return groupInstance
}

// LoopConfig describes a managed loop. Threshold and ResetTimeout only take
// effect on the first StartLoop call for a key; later calls reuse the
// existing breaker.
type LoopConfig struct {
	Key          string
	Threshold    int
	ResetTimeout time.Duration
	Interval     time.Duration
	Operation    func(ctx context.Context) error
}

// StartLoop starts the loop for cfg.Key unless one is already running. The
// loop stops and is removed from tracking when ctx is done.
func (g *Group) StartLoop(ctx context.Context, cfg *LoopConfig) {
	g.mu.Lock()
	if g.active[cfg.Key] {
		g.mu.Unlock()
		return
	}
	rm, ok := g.managers[cfg.Key]
	if !ok {
		rm = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
		g.managers[cfg.Key] = rm
	}
	trigger, ok := g.triggers[cfg.Key]
	if !ok {
		trigger = make(chan struct{}, 1)
		g.triggers[cfg.Key] = trigger
	}
	g.active[cfg.Key] = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.active, cfg.Key)
			g.mu.Unlock()
		}()
		rm.Loop(ctx, cfg.Interval, trigger, cfg.Operation, func(error) {})
	}()
}

// IsLoopActive reports whether a loop is currently running for key.
func (g *Group) IsLoopActive(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[key]
}

// ForceUpdate triggers an immediate execution of the loop for key, if any.
func (g *Group) ForceUpdate(key string) {
	g.mu.Lock()
	trigger, ok := g.triggers[key]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// GetManager returns the circuit breaker for key, or nil.
func (g *Group) GetManager(key string) *Routine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.managers[key]
}
