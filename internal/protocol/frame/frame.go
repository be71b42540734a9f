package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

const (
	// MaxPayloadLen bounds one binary frame payload. Length prefixes above
	// this are treated as corrupt and resynchronized away.
	MaxPayloadLen = 512

	prefixLen = 2
)

// Kind discriminates the two wire framings.
type Kind uint8

const (
	KindJSON Kind = iota + 1
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// RawFrame is one complete frame cut from the byte stream: either a JSON
// control line (newline excluded) or a length-prefixed binary payload
// (prefix excluded).
type RawFrame struct {
	Kind    Kind
	Text    string
	Payload []byte
}

// Demuxer extracts complete frames from an arbitrarily chunked byte stream.
// Implementations are single-session: a reopened device gets a fresh one.
type Demuxer interface {
	Push(p []byte) []RawFrame
	Buffered() int
	DroppedBytes() uint64
	DroppedLines() uint64
}

// Demux is the length-prefixed-LE-u16 framing with JSON line interception.
// A frame starting with '{' is a newline-terminated JSON control line;
// anything else is a 2-byte little-endian length prefix followed by exactly
// that many payload bytes.
type Demux struct {
	buf          []byte
	maxPayload   int
	droppedBytes uint64
	droppedLines uint64
}

func NewDemux() *Demux {
	return &Demux{maxPayload: MaxPayloadLen}
}

// Push appends newly read bytes and returns every frame that is now
// complete, in stream order. It never blocks and never retains emitted
// frame bytes.
func (d *Demux) Push(p []byte) []RawFrame {
	d.buf = append(d.buf, p...)
	var out []RawFrame
	for {
		f, ok := d.next()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

// Buffered reports bytes read but not yet resolved into a frame.
func (d *Demux) Buffered() int { return len(d.buf) }

// DroppedBytes counts single bytes discarded resynchronizing after a
// corrupt length prefix.
func (d *Demux) DroppedBytes() uint64 { return d.droppedBytes }

// DroppedLines counts newline-terminated lines discarded because they were
// not valid JSON.
func (d *Demux) DroppedLines() uint64 { return d.droppedLines }

// next cuts at most one complete frame off the front of the buffer.
// Returns false when more input is required; the buffer is left intact for
// the next Push in that case.
func (d *Demux) next() (RawFrame, bool) {
	for len(d.buf) > 0 {
		if d.buf[0] == '{' {
			nl := bytes.IndexByte(d.buf, '\n')
			if nl < 0 {
				return RawFrame{}, false
			}
			line := string(d.buf[:nl])
			d.consume(nl + 1)
			if !json.Valid([]byte(line)) {
				// Resync-by-line: a malformed line must not desync
				// whatever follows it.
				d.droppedLines++
				continue
			}
			return RawFrame{Kind: KindJSON, Text: line}, true
		}

		if len(d.buf) < prefixLen {
			return RawFrame{}, false
		}
		n := int(binary.LittleEndian.Uint16(d.buf[:prefixLen]))
		if n == 0 || n > d.maxPayload {
			// Implausible prefix: the true frame boundary is unknown, so
			// resynchronize one byte at a time.
			d.consume(1)
			d.droppedBytes++
			continue
		}
		if len(d.buf) < prefixLen+n {
			return RawFrame{}, false
		}
		payload := make([]byte, n)
		copy(payload, d.buf[prefixLen:prefixLen+n])
		d.consume(prefixLen + n)
		return RawFrame{Kind: KindBinary, Payload: payload}, true
	}
	return RawFrame{}, false
}

func (d *Demux) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
