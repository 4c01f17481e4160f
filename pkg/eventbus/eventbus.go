// Package eventbus is the public surface of a clustered event bus node
// (C13): Consumer registration, Send/Publish/Request, and the Bus handle
// returned by New. Everything underneath internal/ is an implementation
// detail a caller of this package never needs to import directly.
package eventbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"clusterbus/internal/addr"
	"clusterbus/internal/bus"
	"clusterbus/internal/config"
	"clusterbus/internal/node"
	"clusterbus/internal/router"
)

// Options configures a Bus's bind/public address and transport tuning.
type Options = config.Options

// Deps bundles the external collaborators a Bus composes over: a
// membership registry and an HA manager are required, everything else is
// defaulted.
type Deps = node.Deps

// Message is what a Consumer handler or a Request call receives.
type Message = bus.Message

// SendOption configures a Send, Publish, or Request call.
type SendOption = router.Option

// WithHeaders attaches headers to the outgoing message.
func WithHeaders(h map[string]string) SendOption { return router.WithHeaders(h) }

// WithCodec selects a non-default body codec by its registered id.
func WithCodec(id string) SendOption { return router.WithCodec(id) }

// LocalOnly restricts a Send or Publish to this node's own local bus.
func LocalOnly() SendOption { return router.LocalOnly() }

// ConsumerOption configures a Consumer registration.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	local bool
}

// Local marks a consumer as never advertised to the cluster: only this
// node's own Send/Publish calls can reach it.
func Local() ConsumerOption { return func(o *consumerOptions) { o.local = true } }

// Bus is a running cluster node's public handle.
type Bus struct {
	n *node.Node
}

// New builds and starts a cluster node bound per opts, composed over deps.
func New(ctx context.Context, opts Options, deps Deps) (*Bus, error) {
	n, err := node.New(opts, deps)
	if err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}
	if err := n.Start(ctx); err != nil {
		return nil, fmt.Errorf("eventbus: start: %w", err)
	}
	return &Bus{n: n}, nil
}

// Self returns this node's advertised NodeAddress.
func (b *Bus) Self() addr.NodeAddress { return b.n.Self() }

// AdminAddr returns the bound admin listener address, or nil if
// Options.AdminBindAddr was left empty.
func (b *Bus) AdminAddr() net.Addr { return b.n.AdminAddr() }

// Close stops the node: the peer server, every outbound connection, and
// the local bus.
func (b *Bus) Close() error { return b.n.Stop() }

// Consumer registers handler for address. Unless Local is given, the
// registration is advertised to the cluster so remote Send/Publish calls
// can reach it.
type Consumer struct {
	bus             *Bus
	address         string
	unregisterLocal func()
	local           bool
}

// Consumer registers handler as a local delivery target for address.
func (b *Bus) Consumer(address string, handler func(Message), opts ...ConsumerOption) (*Consumer, error) {
	var co consumerOptions
	for _, opt := range opts {
		opt(&co)
	}

	unregister := b.n.Bus().RegisterLocal(address, func(m bus.Message) { handler(m) })
	if err := b.n.Registry().AddRegistration(context.Background(), address, false, co.local); err != nil {
		unregister()
		return nil, fmt.Errorf("eventbus: register consumer %s: %w", address, err)
	}

	return &Consumer{bus: b, address: address, unregisterLocal: unregister, local: co.local}, nil
}

// Unregister removes the consumer's local handler and, if it was
// advertised, withdraws the registry entry.
func (c *Consumer) Unregister(ctx context.Context) error {
	c.unregisterLocal()
	if err := c.bus.n.Registry().RemoveRegistration(ctx, c.address, false, c.local); err != nil {
		return fmt.Errorf("eventbus: unregister consumer %s: %w", c.address, err)
	}
	return nil
}

// Send delivers to exactly one handler for address, chosen fairly among
// every node currently registered for it.
func (b *Bus) Send(ctx context.Context, address string, body any, opts ...SendOption) error {
	return b.n.Router().Send(ctx, address, body, opts...)
}

// Publish fans out to every handler registered for address, across every
// node in the cluster.
func (b *Bus) Publish(ctx context.Context, address string, body any, opts ...SendOption) error {
	return b.n.Router().Publish(ctx, address, body, opts...)
}

// Request sends body to address with a freshly minted reply address,
// registers a one-shot local handler for the reply, and waits up to
// timeout for it to fire. The one-shot handler is always unregistered
// before Request returns, whether by reply, timeout, or ctx cancellation.
func (b *Bus) Request(ctx context.Context, address string, body any, timeout time.Duration, opts ...SendOption) (Message, error) {
	replyAddress := router.NewReplyAddress()

	result := make(chan Message, 1)
	var once sync.Once
	unregister := b.n.Bus().RegisterLocal(replyAddress, func(m bus.Message) {
		once.Do(func() { result <- m })
	})
	defer unregister()

	sendOpts := append([]SendOption{router.WithReplyAddress(replyAddress)}, opts...)
	if err := b.n.Router().Send(ctx, address, body, sendOpts...); err != nil {
		return Message{}, fmt.Errorf("eventbus: request to %s: %w", address, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case m := <-result:
		return m, nil
	case <-reqCtx.Done():
		return Message{}, fmt.Errorf("eventbus: request to %s: %w", address, reqCtx.Err())
	}
}
