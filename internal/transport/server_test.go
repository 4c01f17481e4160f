package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"clusterbus/internal/addr"
	"clusterbus/internal/codec"
	"clusterbus/internal/metrics"
	"clusterbus/internal/wire"
)

func TestServerDispatchesDecodedMessages(t *testing.T) {
	srv, err := Listen("127.0.0.1", 0, metrics.NoOp())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan codec.Message, 1)
	go srv.Serve(ctx, func(m codec.Message) { received <- m })

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	payload := codec.Encode(codec.Message{Address: "topic", Body: []byte("payload")})
	if err := wire.WriteFrame(conn, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case m := <-received:
		if m.Address != "topic" || string(m.Body) != "payload" || !m.FromWire {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

func TestServerRepliesToPingWithPongByte(t *testing.T) {
	srv, err := Listen("127.0.0.1", 0, metrics.NoOp())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, func(codec.Message) {})

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ping := codec.Encode(codec.NewPing(addr.NodeAddress{Host: "127.0.0.1", Port: 9}))
	if err := wire.WriteFrame(conn, ping); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read pong: %v", err)
	}
	if n != 1 || buf[0] != 0x01 {
		t.Fatalf("expected single pong byte 0x01, got %v", buf[:n])
	}
}

func TestServerClosesSocketOnDecodeError(t *testing.T) {
	srv, err := Listen("127.0.0.1", 0, metrics.NoOp())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, func(codec.Message) {})

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, []byte{0xff, 0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected socket to be closed after a decode error")
	}
}
