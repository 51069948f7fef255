package libbus

import (
	"context"
	"sync"
)

// InMem is a single-process Messenger. Publish fans out to Stream
// subscribers on the same subject; Request dispatches to the Serve handler
// registered for the subject. No network involved.
type InMem struct {
	mu     sync.RWMutex
	closed bool
	nextID uint64
	subs   map[string]map[uint64]chan<- []byte
	serves map[string]Handler
}

// NewInMem returns an in-memory Messenger for local single-process mode.
func NewInMem() *InMem {
	return &InMem{
		subs:   make(map[string]map[uint64]chan<- []byte),
		serves: make(map[string]Handler),
	}
}

// Publish delivers data to every Stream subscriber of the subject. A slow
// subscriber blocks delivery until it drains or ctx is done.
func (p *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrConnectionClosed
	}
	targets := make([]chan<- []byte, 0, len(p.subs[subject]))
	for _, ch := range p.subs[subject] {
		targets = append(targets, ch)
	}
	p.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stream subscribes ch to the subject until ctx is done or Unsubscribe is
// called.
func (p *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.nextID++
	id := p.nextID
	if p.subs[subject] == nil {
		p.subs[subject] = make(map[uint64]chan<- []byte)
	}
	p.subs[subject][id] = ch
	p.mu.Unlock()

	sub := &inmemStreamSub{bus: p, subject: subject, id: id}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// Request invokes the handler registered via Serve for the subject. When no
// handler exists the call fails the same way a NATS request would: timeout.
func (p *InMem) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	handler := p.serves[subject]
	p.mu.RUnlock()

	if handler == nil {
		return nil, ErrRequestTimeout
	}
	return handler(ctx, data)
}

// Serve registers the request handler for the subject, replacing any
// previous one.
func (p *InMem) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.serves[subject] = handler
	p.mu.Unlock()

	sub := &inmemServeSub{bus: p, subject: subject}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// Close drops all subscribers and handlers; subsequent calls fail with
// ErrConnectionClosed.
func (p *InMem) Close() error {
	p.mu.Lock()
	p.closed = true
	p.subs = make(map[string]map[uint64]chan<- []byte)
	p.serves = make(map[string]Handler)
	p.mu.Unlock()
	return nil
}

type inmemStreamSub struct {
	bus     *InMem
	subject string
	id      uint64
}

func (s *inmemStreamSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs := s.bus.subs[s.subject]; subs != nil {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	return nil
}

type inmemServeSub struct {
	bus     *InMem
	subject string
}

func (s *inmemServeSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.serves, s.subject)
	s.bus.mu.Unlock()
	return nil
}

var _ Messenger = (*InMem)(nil)
