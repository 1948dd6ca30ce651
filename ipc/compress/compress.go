// Package compress provides the payload codecs used by the slot transport.
//
// Batch payloads cross the transport many times per query, so the codecs
// here favor speed over ratio. Control packets are never compressed.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses packet payloads.
type Codec interface {
	// Name identifies the codec on the wire.
	Name() string
	// Compress returns the encoded form of src.
	Compress(src []byte) ([]byte, error)
	// Decompress reverses Compress.
	Decompress(src []byte) ([]byte, error)
}

// None is the identity codec.
type None struct{}

// Name implements Codec.
func (None) Name() string { return "none" }

// Compress implements Codec.
func (None) Compress(src []byte) ([]byte, error) { return src, nil }

// Decompress implements Codec.
func (None) Decompress(src []byte) ([]byte, error) { return src, nil }

// S2 is a Snappy-compatible block codec tuned for throughput.
type S2 struct{}

// Name implements Codec.
func (S2) Name() string { return "s2" }

// Compress implements Codec.
func (S2) Compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

// Decompress implements Codec.
func (S2) Decompress(src []byte) ([]byte, error) {
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("compress: s2 decode: %w", err)
	}
	return out, nil
}

// LZ4 is an LZ4 frame codec.
type LZ4 struct{}

// Name implements Codec.
func (LZ4) Name() string { return "lz4" }

// Compress implements Codec.
func (LZ4) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("compress: lz4 encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: lz4 flush: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec.
func (LZ4) Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 decode: %w", err)
	}
	return out, nil
}

// ByName resolves a codec from its wire name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "none":
		return None{}, nil
	case "s2":
		return S2{}, nil
	case "lz4":
		return LZ4{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown codec %q", name)
	}
}
