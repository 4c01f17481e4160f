package grpcmap

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"clusterbus/internal/addr"
	"clusterbus/internal/membership"
)

const (
	serviceName            = "/clusterbus.membership.v1.Membership/"
	methodAdd               = serviceName + "Add"
	methodRemove            = serviceName + "Remove"
	methodRemoveAllForValue = serviceName + "RemoveAllForValue"
	methodGet               = serviceName + "Get"
	methodWatch             = serviceName + "Watch"
)

var callOpts = []grpc.CallOption{grpc.CallContentSubtype(wireCodecName)}

// Registry implements membership.Registry against a membership
// coordination service over gRPC.
type Registry struct {
	cc *grpc.ClientConn

	cursorsMu sync.Mutex
	cursors   map[string]*uint64
}

// Dial connects to a membership coordinator at target (host:port).
func Dial(target string, opts ...grpc.DialOption) (*Registry, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial membership coordinator %s: %w", target, err)
	}
	return &Registry{cc: cc, cursors: map[string]*uint64{}}, nil
}

// cursorFor returns the persistent round-robin cursor for address, minting
// one on first use. Reusing the same cursor across calls is what makes
// repeated Choose() calls for the same address actually round-robin,
// mirroring internal/membership/inmemory's per-address cursor map.
func (r *Registry) cursorFor(address string) *uint64 {
	r.cursorsMu.Lock()
	defer r.cursorsMu.Unlock()
	c, ok := r.cursors[address]
	if !ok {
		c = new(uint64)
		r.cursors[address] = c
	}
	return c
}

// Close releases the underlying connection.
func (r *Registry) Close() error {
	return r.cc.Close()
}

func (r *Registry) Add(ctx context.Context, address string, node addr.NodeAddress) error {
	req := addRequest{Address: address, Node: node}
	var resp emptyResponse
	if err := r.cc.Invoke(ctx, methodAdd, &req, &resp, callOpts...); err != nil {
		return fmt.Errorf("membership add %q: %w", address, err)
	}
	return nil
}

func (r *Registry) Remove(ctx context.Context, address string, node addr.NodeAddress) (bool, error) {
	req := removeRequest{Address: address, Node: node}
	var resp removeResponse
	if err := r.cc.Invoke(ctx, methodRemove, &req, &resp, callOpts...); err != nil {
		return false, fmt.Errorf("membership remove %q: %w", address, err)
	}
	return resp.Found, nil
}

func (r *Registry) RemoveAllForValue(ctx context.Context, node addr.NodeAddress) error {
	req := removeAllForValueRequest{Node: node}
	var resp emptyResponse
	if err := r.cc.Invoke(ctx, methodRemoveAllForValue, &req, &resp, callOpts...); err != nil {
		return fmt.Errorf("membership remove-all-for-value %s: %w", node, err)
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, address string) (membership.Choosable, error) {
	req := getRequest{Address: address}
	var resp getResponse
	if err := r.cc.Invoke(ctx, methodGet, &req, &resp, callOpts...); err != nil {
		return nil, fmt.Errorf("membership get %q: %w", address, err)
	}
	return membership.NewRoundRobinSet(resp.Nodes, r.cursorFor(address)), nil
}

// Watch streams node-crashed events from the coordinator until ctx is
// cancelled or the stream errors; each event is the failed node's
// NodeAddress reconstructed from its server_id HA metadata.
func (r *Registry) Watch(ctx context.Context, onCrash func(addr.NodeAddress)) error {
	stream, err := r.cc.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, methodWatch, callOpts...)
	if err != nil {
		return fmt.Errorf("membership watch: %w", err)
	}
	if err := stream.SendMsg(&emptyResponse{}); err != nil {
		return fmt.Errorf("membership watch: send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("membership watch: close send: %w", err)
	}

	for {
		var ev crashEvent
		if err := stream.RecvMsg(&ev); err != nil {
			return err
		}
		onCrash(ev.Node)
	}
}
