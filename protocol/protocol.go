// Package protocol defines the fixed binary frame header for czrpc.
//
// Every message on the wire is [Header][Payload]. The header is 16 bytes,
// big-endian, and this layout IS the wire contract:
//
//	0     2  3  4          8          12         16
//	┌─────┬──┬──┬──────────┬──────────┬──────────┬─────────────┐
//	│magic│v │fl│frameSize │  rpcID   │ counter  │ payload ... │
//	│ cz  │01│  │  uint32  │  uint32  │  uint32  │             │
//	└─────┴──┴──┴──────────┴──────────┴──────────┴─────────────┘
//
// frameSize is the total frame length including the header, and together
// with counter it is patched in only at send time: a Call writes a
// placeholder header when it is constructed, serializes its arguments, and
// the true size and sequence number are stamped just before the bytes are
// handed to the transport. The flags byte currently carries a single bit,
// bit0, which marks a frame as a reply to a prior call.
package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	MagicByte1 byte = 0x63 // 'c'
	MagicByte2 byte = 0x7a // 'z'
	Version    byte = 0x01

	// HeaderSize is 2 (magic) + 1 (version) + 1 (flags) + 4 (frameSize) +
	// 4 (rpcID) + 4 (counter).
	HeaderSize = 16

	flagReply byte = 1 << 0
)

// GenericCallID is the reserved rpc id for name-addressed, loosely-typed
// calls. Typed method ids never use it.
const GenericCallID uint32 = 0xFFFFFFFF

// Header carries the framing metadata prefixed to every message.
type Header struct {
	RPCID     uint32 // target method id, or GenericCallID
	Counter   uint32 // per-connection sequence, assigned at send time
	FrameSize uint32 // total frame length including header, patched at send time
	IsReply   bool   // reply to a prior call vs. fresh call to dispatch
}

// Key derives the correlation key used to match an inbound reply to its
// originating call. It is unique among all calls in flight on one
// connection because counter is a monotonically increasing sequence.
func (h *Header) Key() uint64 {
	return uint64(h.RPCID)<<32 | uint64(h.Counter)
}

// Put encodes the header into the first HeaderSize bytes of b.
// A placeholder header (FrameSize and Counter still zero) is encoded the
// same way and fixed up later with PatchSendInfo.
func (h *Header) Put(b []byte) {
	b[0] = MagicByte1
	b[1] = MagicByte2
	b[2] = Version
	var flags byte
	if h.IsReply {
		flags |= flagReply
	}
	b[3] = flags
	binary.BigEndian.PutUint32(b[4:8], h.FrameSize)
	binary.BigEndian.PutUint32(b[8:12], h.RPCID)
	binary.BigEndian.PutUint32(b[12:16], h.Counter)
}

// PatchSendInfo stamps the final frame size and the sequence counter into an
// already-built frame. This runs during send finalization so that multiple
// calls can be constructed concurrently before any of them obtains a counter
// value.
func PatchSendInfo(frame []byte, counter uint32) {
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(frame)))
	binary.BigEndian.PutUint32(frame[12:16], counter)
}

// ParseHeader decodes and validates the header at the front of frame.
// A malformed or truncated header is a protocol-fatal condition for the
// connection, so every violation is reported as an error rather than
// skipped.
func ParseHeader(frame []byte) (Header, error) {
	var h Header
	if len(frame) < HeaderSize {
		return h, errors.Errorf("truncated frame: %d bytes, need at least %d", len(frame), HeaderSize)
	}
	if frame[0] != MagicByte1 || frame[1] != MagicByte2 {
		return h, errors.Errorf("invalid magic number: %x", frame[0:2])
	}
	if frame[2] != Version {
		return h, errors.Errorf("unsupported version: %d", frame[2])
	}
	h.IsReply = frame[3]&flagReply != 0
	h.FrameSize = binary.BigEndian.Uint32(frame[4:8])
	h.RPCID = binary.BigEndian.Uint32(frame[8:12])
	h.Counter = binary.BigEndian.Uint32(frame[12:16])
	if int(h.FrameSize) != len(frame) {
		return h, errors.Errorf("frame size mismatch: header says %d, got %d bytes", h.FrameSize, len(frame))
	}
	return h, nil
}

// ParseSize decodes just enough of a header to know how many bytes the whole
// frame occupies. Transports use it to reassemble exactly one frame from a
// byte stream before handing it upwards.
func ParseSize(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, errors.Errorf("short header: %d bytes", len(header))
	}
	if header[0] != MagicByte1 || header[1] != MagicByte2 {
		return 0, errors.Errorf("invalid magic number: %x", header[0:2])
	}
	if header[2] != Version {
		return 0, errors.Errorf("unsupported version: %d", header[2])
	}
	size := binary.BigEndian.Uint32(header[4:8])
	if size < HeaderSize {
		return 0, errors.Errorf("frame size %d smaller than header", size)
	}
	return int(size), nil
}
