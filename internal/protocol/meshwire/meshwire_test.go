package meshwire

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func encodeMeshPacket(from, to, hopLimit uint32) []byte {
	var pkt []byte
	pkt = protowire.AppendTag(pkt, fieldMeshPacketFrom, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, from)
	pkt = protowire.AppendTag(pkt, fieldMeshPacketTo, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, to)
	if hopLimit != 0 {
		pkt = protowire.AppendTag(pkt, fieldMeshPacketHopLimit, protowire.VarintType)
		pkt = protowire.AppendVarint(pkt, uint64(hopLimit))
	}

	var msg []byte
	msg = protowire.AppendTag(msg, fieldFromRadioPacket, protowire.BytesType)
	msg = protowire.AppendBytes(msg, pkt)
	return msg
}

func encodeNodeInfo(num uint32) []byte {
	var ni []byte
	ni = protowire.AppendTag(ni, fieldNodeInfoNum, protowire.VarintType)
	ni = protowire.AppendVarint(ni, uint64(num))

	var msg []byte
	msg = protowire.AppendTag(msg, fieldFromRadioNodeInfo, protowire.BytesType)
	msg = protowire.AppendBytes(msg, ni)
	return msg
}

func TestDecodeMeshPacket(t *testing.T) {
	msg, err := Decode(encodeMeshPacket(10, 20, 3))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Variant != VariantMeshPacket {
		t.Fatalf("variant=%v, want packet", msg.Variant)
	}
	if msg.Packet.From != 10 || msg.Packet.To != 20 || msg.Packet.HopLimit != 3 {
		t.Fatalf("packet mismatch: %+v", msg.Packet)
	}
}

func TestDecodeMeshPacketZeroHopLimit(t *testing.T) {
	msg, err := Decode(encodeMeshPacket(1, 2, 0))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Packet.HopLimit != 0 {
		t.Fatalf("hop_limit=%d, want 0", msg.Packet.HopLimit)
	}
}

func TestDecodeMeshPacketSkipsUnknownFields(t *testing.T) {
	var pkt []byte
	pkt = protowire.AppendTag(pkt, fieldMeshPacketFrom, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, 7)
	// channel (uint32, field 3) and an opaque encrypted payload (field 5).
	pkt = protowire.AppendTag(pkt, 3, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, 1)
	pkt = protowire.AppendTag(pkt, 5, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, []byte{0xCA, 0xFE})

	var msg []byte
	msg = protowire.AppendTag(msg, fieldFromRadioPacket, protowire.BytesType)
	msg = protowire.AppendBytes(msg, pkt)

	out, err := Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Variant != VariantMeshPacket || out.Packet.From != 7 {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestDecodeNodeInfo(t *testing.T) {
	msg, err := Decode(encodeNodeInfo(42))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Variant != VariantNodeInfo || msg.Node.Num != 42 {
		t.Fatalf("node_info mismatch: %+v", msg)
	}
}

func TestDecodeOtherVariant(t *testing.T) {
	// config_complete_id, a variant the gateway does not interpret.
	var msg []byte
	msg = protowire.AppendTag(msg, 7, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 99)

	out, err := Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Variant != VariantOther {
		t.Fatalf("variant=%v, want other", out.Variant)
	}
}

func TestDecodeFrameIDOnlyIsNoVariant(t *testing.T) {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldFromRadioID, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 12)

	out, err := Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Variant != VariantNone {
		t.Fatalf("variant=%v, want none", out.Variant)
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	if _, err := Decode([]byte{0xFF, 0xFF, 0xFF, 0xFF}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeTruncatedSubmessageFails(t *testing.T) {
	msg := encodeMeshPacket(1, 2, 1)
	if _, err := Decode(msg[:len(msg)-3]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeEmptyIsNoVariant(t *testing.T) {
	out, err := Decode(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Variant != VariantNone {
		t.Fatalf("variant=%v, want none", out.Variant)
	}
}
