package libbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	ErrConnectionClosed = errors.New("libbus: connection closed")
	ErrRequestTimeout   = errors.New("libbus: request timed out")
)

// Handler processes a request message and returns the reply payload.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// Subscription is a handle to an active stream or serve registration.
type Subscription interface {
	Unsubscribe() error
}

// Messenger is the process-to-process messaging surface: fire-and-forget
// publish/stream plus request-reply.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Serve(ctx context.Context, subject string, handler Handler) (Subscription, error)
	Close() error
}

// Config holds NATS connection settings.
type Config struct {
	NATSURL      string
	NATSUser     string
	NATSPassword string
}

type pubsub struct {
	nc *nats.Conn
}

// NewPubSub connects to NATS and returns a Messenger. With an empty URL it
// falls back to the in-memory implementation (single-process mode).
func NewPubSub(ctx context.Context, cfg *Config) (Messenger, error) {
	if cfg == nil || cfg.NATSURL == "" {
		return NewInMem(), nil
	}
	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, err
	}
	return &pubsub{nc: nc}, nil
}

func (p *pubsub) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc.IsClosed() {
		return ErrConnectionClosed
	}
	return p.nc.Publish(subject, data)
}

func (p *pubsub) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return natsSubscription{sub: sub}, nil
}

func (p *pubsub) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	msg, err := p.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (p *pubsub) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply := safeHandle(ctx, handler, msg.Data)
		_ = msg.Respond(reply)
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return natsSubscription{sub: sub}, nil
}

// safeHandle runs the handler, converting panics and errors into error replies
// so a misbehaving handler never kills the subscription goroutine.
func safeHandle(ctx context.Context, handler Handler, data []byte) (reply []byte) {
	defer func() {
		if r := recover(); r != nil {
			reply = []byte(fmt.Sprintf("error: handler panic: %v", r))
		}
	}()
	out, err := handler(ctx, data)
	if err != nil {
		return []byte(fmt.Sprintf("error: %v", err))
	}
	return out
}

func (p *pubsub) Close() error {
	if p.nc.IsClosed() {
		return ErrConnectionClosed
	}
	p.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

var _ Messenger = (*pubsub)(nil)
