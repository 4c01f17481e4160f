package codec

import (
	"reflect"
	"testing"

	"clusterbus/internal/addr"
)

func TestMessageRoundTrip(t *testing.T) {
	m := Message{
		Sender:       addr.NodeAddress{Host: "a.example", Port: 1000},
		Address:      "topic",
		ReplyAddress: "deadbeef",
		Headers:      map[string]string{"k": "v"},
		CodecID:      "json",
		Body:         []byte(`{"x":1}`),
		IsSend:       true,
	}

	encoded := Encode(m)
	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := m
	want.FromWire = true
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestMessageRoundTripNoReplyAddress(t *testing.T) {
	m := Message{
		Sender:  addr.NodeAddress{Host: "b.example", Port: 2000},
		Address: "svc",
		Headers: map[string]string{},
		CodecID: "json",
		Body:    []byte("null"),
	}

	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ReplyAddress != "" {
		t.Fatalf("expected empty reply address, got %q", got.ReplyAddress)
	}
	if !got.FromWire {
		t.Fatal("expected FromWire to be set by Decode")
	}
}

func TestPingRoundTrip(t *testing.T) {
	sender := addr.NodeAddress{Host: "a", Port: 1}
	m := NewPing(sender)
	if !m.IsPing() {
		t.Fatal("NewPing message should be a ping")
	}

	got, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.IsPing() {
		t.Fatal("decoded ping should still be a ping")
	}
	if got.Sender != sender {
		t.Fatalf("got sender %+v, want %+v", got.Sender, sender)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := JSON{}
	encoded, err := c.Encode(map[string]any{"x": float64(1)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if m["x"] != float64(1) {
		t.Fatalf("decoded[x] = %v, want 1", m["x"])
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("json"); !ok {
		t.Fatal("expected default json codec registered")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected missing codec to not be found")
	}
}

func TestRegistryReservedPingIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering reserved ping id")
		}
	}()
	NewRegistry().Register(PingID, JSON{})
}
