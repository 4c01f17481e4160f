// Package admin is the local-only status/subscription surface clusterbusctl
// dials: a loopback listener answering single-request/single-response JSON
// queries about a running node, the admin-plane analogue of
// cmd/ployzd/dialstdio.go's local socket dial.
package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
)

// Request is the line a client writes after dialing the admin listener.
type Request struct {
	Command string `json:"command"`
	Address string `json:"address,omitempty"`
}

// StatusInfo answers the "status" command.
type StatusInfo struct {
	Self  string `json:"self"`
	State string `json:"state"`
}

// SubsInfo answers the "subs" command.
type SubsInfo struct {
	Address string   `json:"address"`
	Nodes   []string `json:"nodes"`
}

// Response is the line the server writes back before closing the
// connection. Exactly one of the payload fields is set, unless Err is set.
type Response struct {
	Err    string      `json:"error,omitempty"`
	Status *StatusInfo `json:"status,omitempty"`
	Subs   *SubsInfo   `json:"subs,omitempty"`
}

// Backend supplies the data the admin listener reports. Node implements it.
type Backend interface {
	AdminStatus() StatusInfo
	AdminSubs(ctx context.Context, address string) (SubsInfo, error)
}

// Server is a loopback listener answering admin Requests.
type Server struct {
	listener net.Listener
	backend  Backend
}

// Listen binds the admin listener at bindAddr (host:port; port 0 picks an
// ephemeral port). An empty bindAddr disables the admin surface entirely —
// callers should not invoke Listen in that case.
func Listen(bindAddr string, backend Backend) (*Server, error) {
	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen admin %s: %w", bindAddr, err)
	}
	return &Server{listener: l, backend: backend}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is done or the listener is closed,
// handling exactly one request per connection.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("admin accept: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		slog.Warn("admin: decode request failed", "err", err)
		return
	}

	resp := s.dispatch(ctx, req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Warn("admin: encode response failed", "err", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Command {
	case "status":
		status := s.backend.AdminStatus()
		return Response{Status: &status}
	case "subs":
		subs, err := s.backend.AdminSubs(ctx, req.Address)
		if err != nil {
			return Response{Err: err.Error()}
		}
		return Response{Subs: &subs}
	default:
		return Response{Err: fmt.Sprintf("unknown admin command %q", req.Command)}
	}
}

// Close stops the listener. In-flight requests are not waited on.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Query dials target, issues req, and decodes the single-line response.
// Shared by clusterbusctl's status and subs subcommands.
func Query(ctx context.Context, target string, req Request) (Response, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return Response{}, fmt.Errorf("dial admin %s: %w", target, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("write admin request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read admin response: %w", err)
	}
	if resp.Err != "" {
		return Response{}, fmt.Errorf("admin error: %s", resp.Err)
	}
	return resp, nil
}
