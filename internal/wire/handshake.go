package wire

import "encoding/binary"

// Handshake magic bytes and protocol version (spec.md §6).
var (
	HandshakeMagic = [4]byte{'R', 'T', 'C', 'H'}
)

const (
	HandshakeVerMajor byte = 2
	HandshakeVerMinor byte = 0
)

// HandshakePayload builds the 8-byte handshake payload: magic, ver_major,
// ver_minor, flags (little-endian u16).
func HandshakePayload(flags uint16) []byte {
	out := make([]byte, 8)
	copy(out[0:4], HandshakeMagic[:])
	out[4] = HandshakeVerMajor
	out[5] = HandshakeVerMinor
	binary.LittleEndian.PutUint16(out[6:8], flags)
	return out
}
