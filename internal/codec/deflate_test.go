package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressIfSmallerBelowThreshold(t *testing.T) {
	_, ok, err := CompressIfSmaller([]byte("too small"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for input below MinCompressInput")
	}
}

func TestCompressIfSmallerIncompressible(t *testing.T) {
	// Every byte value exactly once: there are no repeats for DEFLATE to
	// exploit, so its output (stored or Huffman-coded) is never smaller.
	input := make([]byte, 256)
	for i := range input {
		input[i] = byte(i)
	}
	out, ok, err := CompressIfSmaller(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("CompressIfSmaller claimed smaller for incompressible input: out=%d input=%d", len(out), len(input))
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	input := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 20))

	out, ok, err := CompressIfSmaller(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected compression to shrink a long repetitive input")
	}
	if len(out) >= len(input) {
		t.Errorf("compressed len %d not smaller than input len %d", len(out), len(input))
	}

	decoded, err := Decompress(out)
	if err != nil {
		t.Fatalf("Decompress error: %v", err)
	}
	if !bytes.Equal(decoded, input) {
		t.Error("round trip mismatch")
	}
}

func TestDecompressInvalidInput(t *testing.T) {
	_, err := Decompress([]byte{0xff, 0xff, 0xff, 0xff})
	if err == nil {
		t.Error("expected error decompressing garbage")
	}
}
