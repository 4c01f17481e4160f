// Package grpcmap is the replicated-map backend for membership.Registry: a
// gRPC client against a membership coordination service, the same role
// platform/corrosion's HTTP+backoff client plays for the teacher's gossip
// store, translated to a push/pull key-to-set-of-values protocol.
//
// No protoc step runs in this build, so the wire types below hand-encode
// themselves with google.golang.org/protobuf/encoding/protowire rather than
// being generated from a .proto file; the bytes on the wire are still a
// valid protobuf encoding; a generated client built from a .proto with the
// same field numbers would decode them unchanged.
package grpcmap

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"clusterbus/internal/addr"
)

const (
	fAddAddress = 1
	fAddHost    = 2
	fAddPort    = 3
)

type addRequest struct {
	Address string
	Node    addr.NodeAddress
}

func (r addRequest) marshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, fAddAddress, protowire.BytesType)
	b = protowire.AppendString(b, r.Address)
	b = protowire.AppendTag(b, fAddHost, protowire.BytesType)
	b = protowire.AppendString(b, r.Node.Host)
	b = protowire.AppendTag(b, fAddPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Node.Port))
	return b
}

func (r *addRequest) unmarshalWire(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("addRequest: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fAddAddress:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return fmt.Errorf("addRequest: bad address: %w", protowire.ParseError(nn))
			}
			r.Address = v
			data = data[nn:]
		case fAddHost:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return fmt.Errorf("addRequest: bad host: %w", protowire.ParseError(nn))
			}
			r.Node.Host = v
			data = data[nn:]
		case fAddPort:
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return fmt.Errorf("addRequest: bad port: %w", protowire.ParseError(nn))
			}
			r.Node.Port = int(v)
			data = data[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, data)
			if nn < 0 {
				return fmt.Errorf("addRequest: skip field %d: %w", num, protowire.ParseError(nn))
			}
			data = data[nn:]
		}
	}
	return nil
}

type emptyResponse struct{}

func (emptyResponse) marshalWire() []byte          { return nil }
func (*emptyResponse) unmarshalWire([]byte) error  { return nil }

type removeRequest = addRequest

type removeResponse struct {
	Found bool
}

func (r removeResponse) marshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	v := uint64(0)
	if r.Found {
		v = 1
	}
	b = protowire.AppendVarint(b, v)
	return b
}

func (r *removeResponse) unmarshalWire(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("removeResponse: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num == 1 {
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return fmt.Errorf("removeResponse: bad found: %w", protowire.ParseError(nn))
			}
			r.Found = v != 0
			data = data[nn:]
			continue
		}
		nn := protowire.ConsumeFieldValue(num, typ, data)
		if nn < 0 {
			return fmt.Errorf("removeResponse: skip field %d: %w", num, protowire.ParseError(nn))
		}
		data = data[nn:]
	}
	return nil
}

type removeAllForValueRequest struct {
	Node addr.NodeAddress
}

func (r removeAllForValueRequest) marshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.Node.Host)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Node.Port))
	return b
}

func (r *removeAllForValueRequest) unmarshalWire(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("removeAllForValueRequest: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return fmt.Errorf("removeAllForValueRequest: bad host: %w", protowire.ParseError(nn))
			}
			r.Node.Host = v
			data = data[nn:]
		case 2:
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return fmt.Errorf("removeAllForValueRequest: bad port: %w", protowire.ParseError(nn))
			}
			r.Node.Port = int(v)
			data = data[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, data)
			if nn < 0 {
				return fmt.Errorf("removeAllForValueRequest: skip field %d: %w", num, protowire.ParseError(nn))
			}
			data = data[nn:]
		}
	}
	return nil
}

type getRequest struct {
	Address string
}

func (r getRequest) marshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, r.Address)
	return b
}

func (r *getRequest) unmarshalWire(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("getRequest: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num == 1 {
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return fmt.Errorf("getRequest: bad address: %w", protowire.ParseError(nn))
			}
			r.Address = v
			data = data[nn:]
			continue
		}
		nn := protowire.ConsumeFieldValue(num, typ, data)
		if nn < 0 {
			return fmt.Errorf("getRequest: skip field %d: %w", num, protowire.ParseError(nn))
		}
		data = data[nn:]
	}
	return nil
}

type getResponse struct {
	Nodes []addr.NodeAddress
}

func (r getResponse) marshalWire() []byte {
	var b []byte
	for _, n := range r.Nodes {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, n.Host)
		entry = protowire.AppendTag(entry, 2, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(n.Port))

		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func (r *getResponse) unmarshalWire(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("getResponse: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != 1 {
			nn := protowire.ConsumeFieldValue(num, typ, data)
			if nn < 0 {
				return fmt.Errorf("getResponse: skip field %d: %w", num, protowire.ParseError(nn))
			}
			data = data[nn:]
			continue
		}
		entryBytes, nn := protowire.ConsumeBytes(data)
		if nn < 0 {
			return fmt.Errorf("getResponse: bad entry: %w", protowire.ParseError(nn))
		}
		data = data[nn:]

		var node addr.NodeAddress
		rest := entryBytes
		for len(rest) > 0 {
			enum, etyp, en := protowire.ConsumeTag(rest)
			if en < 0 {
				return fmt.Errorf("getResponse: bad entry tag: %w", protowire.ParseError(en))
			}
			rest = rest[en:]
			switch enum {
			case 1:
				v, vn := protowire.ConsumeString(rest)
				if vn < 0 {
					return fmt.Errorf("getResponse: bad entry host: %w", protowire.ParseError(vn))
				}
				node.Host = v
				rest = rest[vn:]
			case 2:
				v, vn := protowire.ConsumeVarint(rest)
				if vn < 0 {
					return fmt.Errorf("getResponse: bad entry port: %w", protowire.ParseError(vn))
				}
				node.Port = int(v)
				rest = rest[vn:]
			default:
				vn := protowire.ConsumeFieldValue(enum, etyp, rest)
				if vn < 0 {
					return fmt.Errorf("getResponse: skip entry field %d: %w", enum, protowire.ParseError(vn))
				}
				rest = rest[vn:]
			}
		}
		r.Nodes = append(r.Nodes, node)
	}
	return nil
}

// crashEvent is pushed by the coordinator's Watch stream when it observes a
// peer's HA info disappear; it carries the server_id payload (see
// spec.md §6 "HA metadata").
type crashEvent struct {
	Node addr.NodeAddress
}

func (e crashEvent) marshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, e.Node.Host)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Node.Port))
	return b
}

func (e *crashEvent) unmarshalWire(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("crashEvent: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return fmt.Errorf("crashEvent: bad host: %w", protowire.ParseError(nn))
			}
			e.Node.Host = v
			data = data[nn:]
		case 2:
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return fmt.Errorf("crashEvent: bad port: %w", protowire.ParseError(nn))
			}
			e.Node.Port = int(v)
			data = data[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, data)
			if nn < 0 {
				return fmt.Errorf("crashEvent: skip field %d: %w", num, protowire.ParseError(nn))
			}
			data = data[nn:]
		}
	}
	return nil
}
