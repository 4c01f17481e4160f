package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"clusterbus/internal/codec"
	"clusterbus/internal/metrics"
	"clusterbus/internal/wire"
)

// Server is the inbound peer listener (C3): one TCP listener, a fresh
// framer per accepted socket, inline PING replies, and handoff of
// everything else to the local bus via onMessage.
type Server struct {
	listener    net.Listener
	metricsSink *metrics.Sink
}

// Listen binds the peer server to bindHost:bindPort. Port 0 binds a
// wildcard port; callers read back the actual port via Addr().
func Listen(bindHost string, bindPort int, sink *metrics.Sink) (*Server, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.Itoa(bindPort)))
	if err != nil {
		return nil, fmt.Errorf("bind peer server: %w", err)
	}
	return &Server{listener: l, metricsSink: sink}, nil
}

// Addr returns the actual bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener errors,
// dispatching decoded non-PING messages to onMessage.
func (s *Server) Serve(ctx context.Context, onMessage func(codec.Message)) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn, onMessage)
	}
}

// handleConn decodes frames until EOF or a decode/IO error, answering PING
// inline and closing the socket on any error, per spec.md §4.3/§7: decode
// failures are never propagated, only logged and the socket is dropped.
func (s *Server) handleConn(conn net.Conn, onMessage func(codec.Message)) {
	defer conn.Close()

	err := wire.Scan(conn, func(payload []byte) error {
		msg, err := codec.Decode(payload)
		if err != nil {
			return fmt.Errorf("decode inbound message: %w", err)
		}

		if msg.IsPing() {
			_, werr := conn.Write([]byte{0x01})
			return werr
		}

		if s.metricsSink != nil {
			s.metricsSink.MessageReceived(context.Background(), msg.Address)
		}
		if onMessage != nil {
			onMessage(msg)
		}
		return nil
	})

	if err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("peer connection closed", "remote", conn.RemoteAddr(), "err", err)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
