package grpcmap

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// wireCodecName is registered with grpc's encoding package and selected per
// call via grpc.CallContentSubtype, so Invoke/NewStream marshal our
// hand-rolled wire types (see wire.go) without a generated proto.Message.
const wireCodecName = "clusterbus-wire"

type marshaler interface {
	marshalWire() []byte
}

type unmarshaler interface {
	unmarshalWire([]byte) error
}

type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(marshaler)
	if !ok {
		return nil, fmt.Errorf("clusterbus-wire codec: %T does not implement marshalWire", v)
	}
	return m.marshalWire(), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(unmarshaler)
	if !ok {
		return fmt.Errorf("clusterbus-wire codec: %T does not implement unmarshalWire", v)
	}
	return m.unmarshalWire(data)
}

func (wireCodec) Name() string { return wireCodecName }

func init() {
	encoding.RegisterCodec(wireCodec{})
}
