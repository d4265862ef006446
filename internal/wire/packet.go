// Package wire implements the rtachd binary protocol: client→server packets
// (1-byte type, 1-byte length, payload), server→client frames (1-byte type,
// 4-byte little-endian length, payload), and the handshake payload. Layouts
// are bit-exact to spec.md §6; all multibyte integers are little-endian.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Packet types, client → server.
const (
	PacketPush                 byte = 0
	PacketAttach               byte = 1
	PacketDetach               byte = 2
	PacketWinch                byte = 3
	PacketRedraw               byte = 4
	PacketRequestScrollback    byte = 5
	PacketRequestScrollbackPage byte = 6
	PacketUpgrade              byte = 7
	PacketPause                byte = 8
	PacketResume               byte = 9
	PacketClaimActive          byte = 10
)

// MaxPayload is the largest payload a client packet can carry: the length
// field is a single byte.
const MaxPayload = 255

// Packet is a decoded client→server packet: a type tag and its raw payload.
type Packet struct {
	Type    byte
	Payload []byte
}

// Winch decodes a winch packet's payload: rows, cols, xpixel, ypixel.
func (p *Packet) Winch() (rows, cols, xpixel, ypixel uint16, err error) {
	if len(p.Payload) != 8 {
		return 0, 0, 0, 0, fmt.Errorf("wire: winch payload must be 8 bytes, got %d", len(p.Payload))
	}
	rows = binary.LittleEndian.Uint16(p.Payload[0:2])
	cols = binary.LittleEndian.Uint16(p.Payload[2:4])
	xpixel = binary.LittleEndian.Uint16(p.Payload[4:6])
	ypixel = binary.LittleEndian.Uint16(p.Payload[6:8])
	return rows, cols, xpixel, ypixel, nil
}

// AttachClientID decodes an attach packet's optional 16-byte client id.
// present is false iff the payload is empty (spec.md §6 "absent iff
// length=0").
func (p *Packet) AttachClientID() (id uuid.UUID, present bool, err error) {
	if len(p.Payload) == 0 {
		return uuid.UUID{}, false, nil
	}
	if len(p.Payload) != 16 {
		return uuid.UUID{}, false, fmt.Errorf("wire: attach client id must be 16 bytes, got %d", len(p.Payload))
	}
	id, err = uuid.FromBytes(p.Payload)
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("wire: invalid attach client id: %w", err)
	}
	return id, true, nil
}

// UpgradeCompression decodes an upgrade packet's optional compression
// selector. present is false when the payload is empty (raw-compatible
// upgrade, no compression ever applied to this client per spec.md §9).
func (p *Packet) UpgradeCompression() (compressionType byte, present bool, err error) {
	switch len(p.Payload) {
	case 0:
		return 0, false, nil
	case 1:
		return p.Payload[0], true, nil
	default:
		return 0, false, fmt.Errorf("wire: upgrade payload must be 0 or 1 bytes, got %d", len(p.Payload))
	}
}

// ScrollbackPageRequest decodes a request_scrollback_page packet's payload.
func (p *Packet) ScrollbackPageRequest() (offset, limit uint32, err error) {
	if len(p.Payload) != 8 {
		return 0, 0, fmt.Errorf("wire: scrollback page request must be 8 bytes, got %d", len(p.Payload))
	}
	offset = binary.LittleEndian.Uint32(p.Payload[0:4])
	limit = binary.LittleEndian.Uint32(p.Payload[4:8])
	return offset, limit, nil
}

type readerState int

const (
	stateHeader readerState = iota
	statePayload
)

// PacketReader is the per-client inbound parser state machine (spec.md
// §4.3): read_header, read_payload, complete. Feed consumes as much of the
// supplied bytes as needed to assemble one packet; a full packet resets the
// machine and is returned immediately, leaving any remaining bytes in data
// unconsumed for the caller to feed back in. A partial packet's bytes are
// retained across calls.
type PacketReader struct {
	state   readerState
	header  [2]byte
	headerN int

	typ      byte
	length   byte
	payload  []byte
	payloadN int
}

// Feed processes data and returns the number of bytes consumed and, if a
// full packet was assembled, the packet itself.
func (pr *PacketReader) Feed(data []byte) (consumed int, pkt *Packet) {
	i := 0
	for i < len(data) {
		switch pr.state {
		case stateHeader:
			for pr.headerN < 2 && i < len(data) {
				pr.header[pr.headerN] = data[i]
				pr.headerN++
				i++
			}
			if pr.headerN < 2 {
				return i, nil
			}
			pr.typ = pr.header[0]
			pr.length = pr.header[1]
			pr.payload = make([]byte, pr.length)
			pr.payloadN = 0
			pr.state = statePayload
			if pr.length == 0 {
				p := &Packet{Type: pr.typ}
				pr.resetState()
				return i, p
			}

		case statePayload:
			n := copy(pr.payload[pr.payloadN:], data[i:])
			pr.payloadN += n
			i += n
			if pr.payloadN == int(pr.length) {
				p := &Packet{Type: pr.typ, Payload: pr.payload}
				pr.resetState()
				return i, p
			}
		}
	}
	return i, nil
}

func (pr *PacketReader) resetState() {
	pr.state = stateHeader
	pr.headerN = 0
	pr.payload = nil
	pr.payloadN = 0
}

// EncodePacket builds the wire bytes for a client→server packet. Used by
// tests and by any in-process caller that needs to round-trip a Packet
// without a socket.
func EncodePacket(typ byte, payload []byte) []byte {
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}
	out := make([]byte, 2+len(payload))
	out[0] = typ
	out[1] = byte(len(payload))
	copy(out[2:], payload)
	return out
}
