// Package event defines the gateway's typed domain event and the
// classification step that produces one from a raw wire frame.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the closed set of event classifications delivered to subscribers.
type Kind string

const (
	// KindDirectMesh is a mesh packet heard with hop_limit == 0.
	KindDirectMesh Kind = "DirectMesh"
	// KindRelayedMesh is a mesh packet heard with hop_limit > 0.
	KindRelayedMesh Kind = "RelayedMesh"
	// KindNodeInfo is a node-info record with a resolved node number.
	KindNodeInfo Kind = "NodeInfo"
	// KindNodeInfoRaw is an uninterpreted JSON control line from the device.
	KindNodeInfoRaw Kind = "NodeInfoRaw"
	// KindUnknown is a decoded frame whose payload variant the gateway does
	// not interpret.
	KindUnknown Kind = "Unknown"
)

// Event is the unit published on the bus and fanned out to subscribers.
// Immutable once constructed; only the fields relevant to its Kind are set.
type Event struct {
	SourcePort string
	Kind       Kind
	From       uint32
	To         uint32
	NodeID     uint32
	Raw        json.RawMessage
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.SourcePort) == "" {
		return fmt.Errorf("event missing source_port")
	}
	switch e.Kind {
	case KindDirectMesh, KindRelayedMesh, KindNodeInfo, KindNodeInfoRaw, KindUnknown:
		return nil
	default:
		return fmt.Errorf("event has unknown kind %q", e.Kind)
	}
}

// MarshalJSON emits the flat kind-discriminated subscriber wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindDirectMesh, KindRelayedMesh:
		return json.Marshal(struct {
			SourcePort string `json:"source_port"`
			Kind       Kind   `json:"kind"`
			From       uint32 `json:"from"`
			To         uint32 `json:"to"`
		}{e.SourcePort, e.Kind, e.From, e.To})
	case KindNodeInfo:
		return json.Marshal(struct {
			SourcePort string `json:"source_port"`
			Kind       Kind   `json:"kind"`
			NodeID     uint32 `json:"node_id"`
		}{e.SourcePort, e.Kind, e.NodeID})
	case KindNodeInfoRaw:
		return json.Marshal(struct {
			SourcePort string          `json:"source_port"`
			Kind       Kind            `json:"kind"`
			Raw        json.RawMessage `json:"raw"`
		}{e.SourcePort, e.Kind, e.Raw})
	default:
		return json.Marshal(struct {
			SourcePort string `json:"source_port"`
			Kind       Kind   `json:"kind"`
		}{e.SourcePort, e.Kind})
	}
}

// EncodeLine serializes one event as a newline-terminated JSON line, the
// exact bytes written to every subscriber.
func EncodeLine(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
