// Package router implements sendOrPublish (C5): the component that turns a
// Send/Publish/Reply call into local delivery, a single point-to-point wire
// send, or a fan-out of wire sends, consulting the subscription registry
// and never touching a connection to self.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"clusterbus/internal/addr"
	"clusterbus/internal/bus"
	"clusterbus/internal/codec"
	"clusterbus/internal/membership"
	"clusterbus/internal/metrics"
	"clusterbus/internal/registry"
	"clusterbus/internal/transport"
)

// Lookup is the subset of registry.Client the Router needs, narrowed so
// tests can supply a fake without a real membership backend.
type Lookup interface {
	Lookup(ctx context.Context, address string) (membership.Choosable, error)
}

// Router is the clustered send/publish/reply engine. Calls made through
// Send, Publish, and Reply are serialized onto a single dispatch goroutine
// (spec.md §5's sentinel-context discipline) so that two sends issued
// concurrently by callers outside the bus's own event loop still observe
// FIFO order; wire-originated deliveries bypass the dispatch goroutine
// entirely since each peer connection already decodes and delivers frames
// one at a time.
type Router struct {
	self        addr.NodeAddress
	localBus    bus.Bus
	reg         Lookup
	transportMgr *transport.Manager
	codecs      *codec.Registry
	metricsSink *metrics.Sink

	dispatch chan func()
	done     chan struct{}
}

// New builds a Router. queueSize bounds the dispatch backlog; callers block
// (respecting ctx) once it is full.
func New(self addr.NodeAddress, localBus bus.Bus, reg Lookup, transportMgr *transport.Manager, codecs *codec.Registry, sink *metrics.Sink, queueSize int) *Router {
	r := &Router{
		self:         self,
		localBus:     localBus,
		reg:          reg,
		transportMgr: transportMgr,
		codecs:       codecs,
		metricsSink:  sink,
		dispatch:     make(chan func(), queueSize),
		done:         make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Router) loop() {
	for {
		select {
		case job := <-r.dispatch:
			job()
		case <-r.done:
			return
		}
	}
}

// Close stops the dispatch goroutine. Jobs already queued are dropped.
func (r *Router) Close() error {
	close(r.done)
	return nil
}

// sendOptions configures one Send/Publish/Reply call.
type sendOptions struct {
	headers      map[string]string
	replyAddress string
	localOnly    bool
	codecID      string
}

// Option configures a Send, Publish, or Reply call.
type Option func(*sendOptions)

// WithHeaders attaches headers to the outgoing message.
func WithHeaders(h map[string]string) Option { return func(o *sendOptions) { o.headers = h } }

// WithReplyAddress sets the address a recipient should reply to.
func WithReplyAddress(address string) Option {
	return func(o *sendOptions) { o.replyAddress = address }
}

// LocalOnly restricts delivery to this node's own local bus, never
// consulting the registry or opening a connection.
func LocalOnly() Option { return func(o *sendOptions) { o.localOnly = true } }

// WithCodec selects a non-default body codec by its registered id.
func WithCodec(id string) Option { return func(o *sendOptions) { o.codecID = id } }

// NewReplyAddress mints an unguessable, per-call reply address (spec.md
// §4.5): a random v4 UUID, which is infeasible to predict or collide with
// an externally chosen address.
func NewReplyAddress() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails when the system's CSPRNG itself is
		// broken; there is no safe address to hand back in that case.
		panic(fmt.Sprintf("generate reply address: %v", err))
	}
	return "__reply__." + id.String()
}

// Send delivers to exactly one handler for address, chosen fairly among
// every node (including this one) currently registered for it.
func (r *Router) Send(ctx context.Context, address string, body any, opts ...Option) error {
	return r.enqueue(ctx, func() error { return r.sendOrPublish(ctx, address, body, opts, true) })
}

// Publish fans out to every handler registered for address, across every
// node in the cluster.
func (r *Router) Publish(ctx context.Context, address string, body any, opts ...Option) error {
	return r.enqueue(ctx, func() error { return r.sendOrPublish(ctx, address, body, opts, false) })
}

// Reply sends body back to the sender of to, bypassing the registry
// entirely: the sender's NodeAddress came with the original message, so
// there is nothing to look up.
func (r *Router) Reply(ctx context.Context, to bus.Message, body any, opts ...Option) error {
	if to.ReplyAddress == "" {
		return fmt.Errorf("reply to %s: message carries no reply address", to.Address)
	}
	return r.enqueue(ctx, func() error {
		so := sendOptions{codecID: "json"}
		for _, opt := range opts {
			opt(&so)
		}
		so.replyAddress = ""

		if to.Sender == r.self {
			r.localBus.DeliverLocal(ctx, bus.Message{
				Sender:  r.self,
				Address: to.ReplyAddress,
				Headers: so.headers,
				Body:    body,
			}, true)
			r.metricsSink.MessageSent(ctx, to.ReplyAddress, false, true, false)
			return nil
		}

		if err := r.sendWire(to.Sender, to.ReplyAddress, so, body, true); err != nil {
			return err
		}
		r.metricsSink.MessageSent(ctx, to.ReplyAddress, false, false, true)
		return nil
	})
}

// enqueue runs fn on the dispatch goroutine and waits for it to finish,
// respecting ctx on both the handoff and the wait.
func (r *Router) enqueue(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case r.dispatch <- func() { result <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return errors.New("router is closed")
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) sendOrPublish(ctx context.Context, address string, body any, opts []Option, isSend bool) error {
	so := sendOptions{codecID: "json"}
	for _, opt := range opts {
		opt(&so)
	}

	if so.localOnly {
		r.localBus.DeliverLocal(ctx, bus.Message{
			Sender:       r.self,
			Address:      address,
			ReplyAddress: so.replyAddress,
			Headers:      so.headers,
			Body:         body,
		}, isSend)
		r.metricsSink.MessageSent(ctx, address, !isSend, true, false)
		return nil
	}

	choosable, err := r.reg.Lookup(ctx, address)
	if err != nil {
		slog.Warn("registry lookup failed, dropping send", "address", address, "err", err)
		return nil
	}

	targets, err := targetsFor(choosable, isSend)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		r.localBus.DeliverLocal(ctx, bus.Message{
			Sender:       r.self,
			Address:      address,
			ReplyAddress: so.replyAddress,
			Headers:      so.headers,
			Body:         body,
		}, isSend)
		r.metricsSink.MessageSent(ctx, address, !isSend, true, false)
		return nil
	}

	var localHit, remoteHit bool
	for _, node := range targets {
		if node == r.self {
			r.localBus.DeliverLocal(ctx, bus.Message{
				Sender:       r.self,
				Address:      address,
				ReplyAddress: so.replyAddress,
				Headers:      so.headers,
				Body:         body,
			}, isSend)
			localHit = true
			continue
		}
		if err := r.sendWire(node, address, so, body, isSend); err != nil {
			return err
		}
		remoteHit = true
	}
	r.metricsSink.MessageSent(ctx, address, !isSend, localHit, remoteHit)
	return nil
}

func targetsFor(c membership.Choosable, isSend bool) ([]addr.NodeAddress, error) {
	if !isSend {
		return c.Nodes(), nil
	}
	node, ok := c.Choose()
	if !ok {
		return nil, nil
	}
	return []addr.NodeAddress{node}, nil
}

func (r *Router) sendWire(node addr.NodeAddress, address string, so sendOptions, body any, isSend bool) error {
	enc, ok := r.codecs.Lookup(so.codecID)
	if !ok {
		return fmt.Errorf("unknown codec %q", so.codecID)
	}
	raw, err := enc.Encode(body)
	if err != nil {
		return fmt.Errorf("encode body for %s: %w", address, err)
	}

	wireMsg := codec.Message{
		Sender:       r.self,
		Address:      address,
		ReplyAddress: so.replyAddress,
		Headers:      so.headers,
		CodecID:      so.codecID,
		Body:         raw,
		IsSend:       isSend,
	}
	r.transportMgr.HolderFor(node).WriteMessage(codec.Encode(wireMsg))
	return nil
}

// HandleWireMessage decodes a frame's body by its declared codec and
// delivers it to the local bus only. It never re-clusters: a wire-decoded
// message has already visited the network once, and local delivery is all
// a receiving node is responsible for.
func (r *Router) HandleWireMessage(msg codec.Message) {
	var body any = msg.Body
	if dec, ok := r.codecs.Lookup(msg.CodecID); ok {
		if v, err := dec.Decode(msg.Body); err == nil {
			body = v
		} else {
			slog.Warn("failed to decode message body, delivering raw bytes", "address", msg.Address, "codec", msg.CodecID, "err", err)
		}
	}

	r.localBus.DeliverLocal(context.Background(), bus.Message{
		Sender:       msg.Sender,
		Address:      msg.Address,
		ReplyAddress: msg.ReplyAddress,
		Headers:      msg.Headers,
		Body:         body,
		FromWire:     true,
	}, msg.IsSend)
}
