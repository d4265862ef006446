package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Frame types, server → client.
const (
	FrameTerminalData   byte = 0
	FrameScrollback     byte = 1
	FrameCommand        byte = 2
	FrameScrollbackPage byte = 3
	FrameIdle           byte = 4
	FrameHandshake      byte = 255
)

// CompressedBit marks a terminal_data frame's payload as raw-DEFLATE
// compressed. Only terminal_data is ever compressed (spec.md §4.2, §6).
const CompressedBit byte = 0x80

// TypeMask strips the compressed bit to recover the real frame type.
const TypeMask byte = 0x7F

// HeaderSize is the length of a server→client frame header: 1-byte type,
// 4-byte little-endian length.
const HeaderSize = 5

// EncodeHeader builds the 5-byte frame header for the given type and
// payload length.
func EncodeHeader(typ byte, payloadLen int) [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = typ
	binary.LittleEndian.PutUint32(h[1:5], uint32(payloadLen))
	return h
}

// WriteFrame writes a single server→client frame as one vectored write
// (header + payload), so a frame can never be interleaved on the wire with
// another frame from the same writer (spec.md §5 Ordering, §9 "Vectored
// writes"). net.Buffers triggers a writev syscall when w is a
// file-descriptor-backed net.Conn (e.g. the Unix socket connections this
// daemon writes to).
func WriteFrame(w io.Writer, typ byte, payload []byte) error {
	return WriteFrameParts(w, typ, payload)
}

// WriteFrameParts writes a frame whose payload is the concatenation of
// parts, without copying them into one buffer first. Used for scrollback
// replay, which is built directly from the ring's two (header, first,
// second) slices.
func WriteFrameParts(w io.Writer, typ byte, parts ...[]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	header := EncodeHeader(typ, total)

	bufs := make(net.Buffers, 0, len(parts)+1)
	bufs = append(bufs, header[:])
	for _, p := range parts {
		if len(p) > 0 {
			bufs = append(bufs, p)
		}
	}

	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("wire: frame write failed: %w", err)
	}
	return nil
}

// DecodeFrameHeader parses a 5-byte server→client frame header, splitting
// the compressed bit from the real type.
func DecodeFrameHeader(header []byte) (typ byte, compressed bool, payloadLen uint32, err error) {
	if len(header) != HeaderSize {
		return 0, false, 0, fmt.Errorf("wire: frame header must be %d bytes, got %d", HeaderSize, len(header))
	}
	raw := header[0]
	compressed = raw&CompressedBit != 0
	typ = raw & TypeMask
	payloadLen = binary.LittleEndian.Uint32(header[1:5])
	return typ, compressed, payloadLen, nil
}
