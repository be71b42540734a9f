package event

import (
	"encoding/json"

	"github.com/danmuck/meshgate/internal/protocol/frame"
	"github.com/danmuck/meshgate/internal/protocol/meshwire"
)

// Classify maps one raw frame to at most one event. Pure: a frame that
// cannot be decoded, or that decodes to no payload variant, produces no
// event and no error. hop_limit is the sole discriminant between direct
// and relayed mesh packets.
func Classify(sourcePort string, f frame.RawFrame) (Event, bool) {
	switch f.Kind {
	case frame.KindJSON:
		return classifyJSON(sourcePort, f.Text)
	case frame.KindBinary:
		return classifyBinary(sourcePort, f.Payload)
	default:
		return Event{}, false
	}
}

func classifyJSON(sourcePort, text string) (Event, bool) {
	// The demultiplexer already validates lines, but tolerate bad input
	// handed in directly.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return Event{}, false
	}
	if raw, ok := obj["num"]; ok {
		var num uint32
		if err := json.Unmarshal(raw, &num); err != nil {
			// Present but non-numeric: node id defaults to zero.
			num = 0
		}
		return Event{SourcePort: sourcePort, Kind: KindNodeInfo, NodeID: num}, true
	}
	return Event{SourcePort: sourcePort, Kind: KindNodeInfoRaw, Raw: json.RawMessage(text)}, true
}

func classifyBinary(sourcePort string, payload []byte) (Event, bool) {
	msg, err := meshwire.Decode(payload)
	if err != nil {
		return Event{}, false
	}
	switch msg.Variant {
	case meshwire.VariantMeshPacket:
		kind := KindDirectMesh
		if msg.Packet.HopLimit > 0 {
			kind = KindRelayedMesh
		}
		return Event{
			SourcePort: sourcePort,
			Kind:       kind,
			From:       msg.Packet.From,
			To:         msg.Packet.To,
		}, true
	case meshwire.VariantNodeInfo:
		return Event{SourcePort: sourcePort, Kind: KindNodeInfo, NodeID: msg.Node.Num}, true
	case meshwire.VariantOther:
		return Event{SourcePort: sourcePort, Kind: KindUnknown}, true
	default:
		return Event{}, false
	}
}
