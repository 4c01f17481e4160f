// Package codec owns the wire encoding of ClusteredMessage and the
// name->codec lookup table used for message bodies, plus the reserved PING
// codec identity. It is a deliberately thin table, the "external
// collaborator" spec.md assigns this concern to.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"clusterbus/internal/addr"
)

// PingID is the reserved codec identity recognised by the peer server and
// by outbound holders as a keepalive record, never registered in Registry.
const PingID = "__ping__"

// Message is the wire shape of a ClusteredMessage. FromWire is never
// transmitted; it is set to true by Decode so routers can tell a re-entrant
// decode apart from an originating send.
type Message struct {
	Sender       addr.NodeAddress
	Address      string
	ReplyAddress string
	Headers      map[string]string
	CodecID      string
	Body         []byte
	IsSend       bool
	FromWire     bool
}

// protobuf field numbers for the wire envelope. Hand-encoded with
// protowire rather than generated proto.Message types, since no protoc
// step runs in this build: the payload is still valid protobuf wire
// format and any generated client could decode it against a .proto with
// these field numbers.
const (
	fieldSenderHost   = 1
	fieldSenderPort   = 2
	fieldAddress      = 3
	fieldReplyAddress = 4
	fieldHeaderKey    = 5 // repeated, paired with fieldHeaderVal in order
	fieldHeaderVal    = 6
	fieldCodecID      = 7
	fieldBody         = 8
	fieldIsSend       = 9
)

// Encode marshals m into its wire representation. FromWire is never
// serialized — it is a local, decode-only flag.
func Encode(m Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSenderHost, protowire.BytesType)
	b = protowire.AppendString(b, m.Sender.Host)
	b = protowire.AppendTag(b, fieldSenderPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Sender.Port))
	b = protowire.AppendTag(b, fieldAddress, protowire.BytesType)
	b = protowire.AppendString(b, m.Address)
	if m.ReplyAddress != "" {
		b = protowire.AppendTag(b, fieldReplyAddress, protowire.BytesType)
		b = protowire.AppendString(b, m.ReplyAddress)
	}
	for k, v := range m.Headers {
		b = protowire.AppendTag(b, fieldHeaderKey, protowire.BytesType)
		b = protowire.AppendString(b, k)
		b = protowire.AppendTag(b, fieldHeaderVal, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	b = protowire.AppendTag(b, fieldCodecID, protowire.BytesType)
	b = protowire.AppendString(b, m.CodecID)
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Body)
	b = protowire.AppendTag(b, fieldIsSend, protowire.VarintType)
	v := uint64(0)
	if m.IsSend {
		v = 1
	}
	b = protowire.AppendVarint(b, v)
	return b
}

// Decode unmarshals a wire-format ClusteredMessage and sets FromWire, since
// every call site decodes inbound traffic that must not be re-clustered.
func Decode(data []byte) (Message, error) {
	var m Message
	m.Headers = map[string]string{}
	var pendingKey string
	haveKey := false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Message{}, fmt.Errorf("decode clustered message: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldSenderHost:
			s, nn, err := consumeString(data, typ)
			if err != nil {
				return Message{}, err
			}
			m.Sender.Host = s
			data = data[nn:]
		case fieldSenderPort:
			val, nn, err := consumeVarint(data, typ)
			if err != nil {
				return Message{}, err
			}
			m.Sender.Port = int(val)
			data = data[nn:]
		case fieldAddress:
			s, nn, err := consumeString(data, typ)
			if err != nil {
				return Message{}, err
			}
			m.Address = s
			data = data[nn:]
		case fieldReplyAddress:
			s, nn, err := consumeString(data, typ)
			if err != nil {
				return Message{}, err
			}
			m.ReplyAddress = s
			data = data[nn:]
		case fieldHeaderKey:
			s, nn, err := consumeString(data, typ)
			if err != nil {
				return Message{}, err
			}
			pendingKey, haveKey = s, true
			data = data[nn:]
		case fieldHeaderVal:
			s, nn, err := consumeString(data, typ)
			if err != nil {
				return Message{}, err
			}
			if haveKey {
				m.Headers[pendingKey] = s
				haveKey = false
			}
			data = data[nn:]
		case fieldCodecID:
			s, nn, err := consumeString(data, typ)
			if err != nil {
				return Message{}, err
			}
			m.CodecID = s
			data = data[nn:]
		case fieldBody:
			bs, nn, err := consumeBytes(data, typ)
			if err != nil {
				return Message{}, err
			}
			m.Body = bs
			data = data[nn:]
		case fieldIsSend:
			val, nn, err := consumeVarint(data, typ)
			if err != nil {
				return Message{}, err
			}
			m.IsSend = val != 0
			data = data[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, data)
			if nn < 0 {
				return Message{}, fmt.Errorf("decode clustered message: skip unknown field %d: %w", num, protowire.ParseError(nn))
			}
			data = data[nn:]
		}
	}

	m.FromWire = true
	return m, nil
}

func consumeString(data []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("decode clustered message: expected bytes type, got %v", typ)
	}
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, fmt.Errorf("decode clustered message: bad string: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("decode clustered message: expected bytes type, got %v", typ)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("decode clustered message: bad bytes: %w", protowire.ParseError(n))
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("decode clustered message: expected varint type, got %v", typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("decode clustered message: bad varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

// NewPing builds a keepalive record from sender: a Message whose CodecID is
// the reserved PingID and whose body is empty.
func NewPing(sender addr.NodeAddress) Message {
	return Message{Sender: sender, CodecID: PingID}
}

// IsPing reports whether m is a keepalive record.
func (m Message) IsPing() bool {
	return m.CodecID == PingID
}
