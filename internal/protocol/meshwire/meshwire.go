// Package meshwire decodes the handful of Meshtastic FromRadio fields the
// gateway classifies on. The full generated bindings are deliberately not
// vendored: the radio schema is externally owned and only packet routing
// metadata and node numbers are needed here.
package meshwire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from the Meshtastic mesh.proto schema.
const (
	fieldFromRadioID       = 1
	fieldFromRadioPacket   = 2
	fieldFromRadioNodeInfo = 4

	fieldMeshPacketFrom     = 1
	fieldMeshPacketTo       = 2
	fieldMeshPacketHopLimit = 9

	fieldNodeInfoNum = 1
)

var ErrMalformed = errors.New("meshwire: malformed message")

// Variant identifies which payload_variant a FromRadio carried.
type Variant uint8

const (
	VariantNone Variant = iota
	VariantMeshPacket
	VariantNodeInfo
	VariantOther
)

func (v Variant) String() string {
	switch v {
	case VariantMeshPacket:
		return "packet"
	case VariantNodeInfo:
		return "node_info"
	case VariantOther:
		return "other"
	default:
		return "none"
	}
}

// MeshPacket is the routing metadata of one mesh packet.
type MeshPacket struct {
	From     uint32
	To       uint32
	HopLimit uint32
}

// NodeInfo is the node number of one node-info record.
type NodeInfo struct {
	Num uint32
}

// FromRadio is the decoded shape of one radio frame.
type FromRadio struct {
	Variant Variant
	Packet  MeshPacket
	Node    NodeInfo
}

// Decode parses one FromRadio message. A structurally valid message with no
// payload_variant decodes to VariantNone; wire-level damage returns
// ErrMalformed.
func Decode(b []byte) (FromRadio, error) {
	var out FromRadio
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return FromRadio{}, fmt.Errorf("%w: bad tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldFromRadioPacket:
			sub, n, err := consumeBytes(b, typ)
			if err != nil {
				return FromRadio{}, err
			}
			b = b[n:]
			pkt, err := decodeMeshPacket(sub)
			if err != nil {
				return FromRadio{}, err
			}
			out.Variant = VariantMeshPacket
			out.Packet = pkt
		case fieldFromRadioNodeInfo:
			sub, n, err := consumeBytes(b, typ)
			if err != nil {
				return FromRadio{}, err
			}
			b = b[n:]
			ni, err := decodeNodeInfo(sub)
			if err != nil {
				return FromRadio{}, err
			}
			out.Variant = VariantNodeInfo
			out.Node = ni
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return FromRadio{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			// Field 1 is the frame id, not a payload_variant. Anything else
			// is a recognized-but-unhandled variant.
			if num != fieldFromRadioID && out.Variant == VariantNone {
				out.Variant = VariantOther
			}
		}
	}
	return out, nil
}

func decodeMeshPacket(b []byte) (MeshPacket, error) {
	var pkt MeshPacket
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return MeshPacket{}, fmt.Errorf("%w: packet tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldMeshPacketFrom && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return MeshPacket{}, fmt.Errorf("%w: packet from", ErrMalformed)
			}
			pkt.From = v
			b = b[n:]
		case num == fieldMeshPacketTo && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return MeshPacket{}, fmt.Errorf("%w: packet to", ErrMalformed)
			}
			pkt.To = v
			b = b[n:]
		case num == fieldMeshPacketHopLimit && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return MeshPacket{}, fmt.Errorf("%w: packet hop_limit", ErrMalformed)
			}
			pkt.HopLimit = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return MeshPacket{}, fmt.Errorf("%w: packet field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return pkt, nil
}

func decodeNodeInfo(b []byte) (NodeInfo, error) {
	var ni NodeInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return NodeInfo{}, fmt.Errorf("%w: node_info tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldNodeInfoNum && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return NodeInfo{}, fmt.Errorf("%w: node_info num", ErrMalformed)
			}
			ni.Num = uint32(v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return NodeInfo{}, fmt.Errorf("%w: node_info field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return ni, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: expected length-delimited field", ErrMalformed)
	}
	sub, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: truncated submessage", ErrMalformed)
	}
	return sub, n, nil
}
