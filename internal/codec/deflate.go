// Package codec implements the raw DEFLATE compression used to shrink
// terminal_data frames (spec.md §4.2, §6): RFC 1951 raw deflate, no
// zlib/gzip framing, so it interoperates with Apple's Compression
// framework's COMPRESSION_ZLIB on the client side.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// MinCompressInput is the policy threshold below which compression is never
// attempted: the per-frame overhead is not worth it for tiny payloads.
const MinCompressInput = 64

// CompressIfSmaller returns the raw-deflate encoding of input, or false if
// the result would not be strictly smaller than input, or if input is below
// MinCompressInput. A genuine codec error is returned as an error; "not
// smaller" is reported via the bool, never as an error (spec.md §4.2).
func CompressIfSmaller(input []byte) ([]byte, bool, error) {
	if len(input) < MinCompressInput {
		return nil, false, nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, false, fmt.Errorf("compression_failed: %w", err)
	}
	if _, err := w.Write(input); err != nil {
		return nil, false, fmt.Errorf("compression_failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, fmt.Errorf("compression_failed: %w", err)
	}

	if buf.Len() >= len(input) {
		return nil, false, nil
	}
	return buf.Bytes(), true, nil
}

// Decompress inflates a raw-deflate stream produced by CompressIfSmaller.
func Decompress(input []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(input))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompression_failed: %w", err)
	}
	return out, nil
}
