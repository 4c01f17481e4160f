// Package transport implements the peer-to-peer TCP fabric: one long-lived
// ConnectionHolder per peer (C2) reused across addresses, and the inbound
// peer server (C3).
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"clusterbus/internal/addr"
	"clusterbus/internal/codec"
	"clusterbus/internal/metrics"
	"clusterbus/internal/wire"
)

// State is a ConnectionHolder's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// dialAttemptTimeout bounds a single dial attempt within connect()'s
// backoff-retried budget.
const dialAttemptTimeout = 3 * time.Second

// Holder is the per-peer outbound connection state machine described in
// spec.md §4.2. Its state, pending queue, and socket are touched only
// under mu, held for O(1) work, per spec.md §5.
type Holder struct {
	peer    addr.NodeAddress
	self    addr.NodeAddress
	manager *Manager

	pingInterval     time.Duration
	connectTimeout   time.Duration
	pendingMax       int
	metricsSink      *metrics.Sink

	mu      sync.Mutex
	state   State
	pending [][]byte
	conn    net.Conn

	lastPongUnixNano int64
}

func newHolder(peer, self addr.NodeAddress, manager *Manager, pingInterval, connectTimeout time.Duration, pendingMax int, sink *metrics.Sink) *Holder {
	return &Holder{
		peer:           peer,
		self:           self,
		manager:        manager,
		pingInterval:   pingInterval,
		connectTimeout: connectTimeout,
		pendingMax:     pendingMax,
		metricsSink:    sink,
		state:          StateConnecting,
	}
}

// Peer returns the remote NodeAddress this holder connects to.
func (h *Holder) Peer() addr.NodeAddress { return h.peer }

// State returns the holder's current lifecycle state.
func (h *Holder) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// WriteMessage enqueues an encoded message for delivery to peer. If the
// holder is READY it writes directly; if CONNECTING it appends to pending
// (dropping the oldest entry on overflow — spec.md §9's resolved open
// question); CLOSED is a caller bug (the holder should already have been
// evicted) and is logged, not retried here — callers re-look-up via Manager.
func (h *Holder) WriteMessage(payload []byte) {
	h.mu.Lock()
	switch h.state {
	case StateReady:
		conn := h.conn
		h.mu.Unlock()
		if err := wire.WriteFrame(conn, payload); err != nil {
			h.closeWithError(fmt.Errorf("write message: %w", err))
		}
		return
	case StateConnecting:
		if h.pendingMax > 0 && len(h.pending) >= h.pendingMax {
			h.pending = append(h.pending[1:], payload)
			h.mu.Unlock()
			if h.metricsSink != nil {
				h.metricsSink.PendingDropped(context.Background(), h.peer.String())
			}
			slog.Warn("connection holder pending queue full, dropped oldest", "peer", h.peer)
			return
		}
		h.pending = append(h.pending, payload)
		h.mu.Unlock()
	default: // StateClosed
		h.mu.Unlock()
		slog.Warn("write to closed connection holder dropped", "peer", h.peer)
	}
}

// connect dials peer, drains pending in insertion order on success, and
// installs the keepalive and read loops. On failure it transitions to
// CLOSED and evicts itself from the manager's map.
func (h *Holder) connect(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, h.connectTimeout)
	defer cancel()

	var conn net.Conn
	dial := func() error {
		c, err := (&net.Dialer{Timeout: dialAttemptTimeout}).DialContext(dialCtx, "tcp", h.peer.String())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 3), dialCtx)
	if err := backoff.Retry(dial, policy); err != nil {
		h.onConnectFailure(err)
		return
	}

	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	pending := h.pending
	h.pending = nil
	h.conn = conn
	h.state = StateReady
	h.mu.Unlock()
	atomic.StoreInt64(&h.lastPongUnixNano, time.Now().UnixNano())

	for _, p := range pending {
		if err := wire.WriteFrame(conn, p); err != nil {
			h.closeWithError(fmt.Errorf("drain pending: %w", err))
			return
		}
	}

	go h.readLoop()
	go h.keepaliveLoop()
}

func (h *Holder) onConnectFailure(err error) {
	h.mu.Lock()
	dropped := len(h.pending)
	h.pending = nil
	h.state = StateClosed
	h.mu.Unlock()

	h.manager.evict(h.peer, h)
	slog.Warn("outbound connect failed", "peer", h.peer, "err", err, "pending_dropped", dropped)
}

// readLoop treats every inbound byte as a PONG acknowledgement — outbound
// holders are write-mostly, per spec.md §4.2.
func (h *Holder) readLoop() {
	buf := make([]byte, 256)
	for {
		conn := h.currentConn()
		if conn == nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			h.closeWithError(fmt.Errorf("read: %w", err))
			return
		}
		if n > 0 {
			atomic.StoreInt64(&h.lastPongUnixNano, time.Now().UnixNano())
		}
	}
}

func (h *Holder) currentConn() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady {
		return nil
	}
	return h.conn
}

// keepaliveLoop sends a PING every pingInterval and closes the holder if no
// PONG (any inbound byte) has arrived within two intervals. Keepalive is
// suppressed once the holder is CLOSED, per spec.md §4.2.
func (h *Holder) keepaliveLoop() {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		conn := h.currentConn()
		if conn == nil {
			return
		}

		last := time.Unix(0, atomic.LoadInt64(&h.lastPongUnixNano))
		if time.Since(last) > 2*h.pingInterval {
			h.closeWithError(fmt.Errorf("ping timeout: no pong since %s", last))
			return
		}

		payload := codec.Encode(codec.NewPing(h.self))
		if err := wire.WriteFrame(conn, payload); err != nil {
			h.closeWithError(fmt.Errorf("write ping: %w", err))
			return
		}
	}
}

// Close transitions the holder to CLOSED, closes its socket if any, evicts
// it from the manager's map, and drops any queued pending messages without
// retrying them.
func (h *Holder) Close() error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return nil
	}
	conn := h.conn
	h.state = StateClosed
	h.pending = nil
	h.mu.Unlock()

	h.manager.evict(h.peer, h)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (h *Holder) closeWithError(err error) {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return
	}
	conn := h.conn
	h.state = StateClosed
	h.pending = nil
	h.mu.Unlock()

	h.manager.evict(h.peer, h)
	if conn != nil {
		_ = conn.Close()
	}
	slog.Warn("connection holder closed", "peer", h.peer, "err", err)
}
