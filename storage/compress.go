package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Encoders and decoders are safe for concurrent EncodeAll/DecodeAll calls.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodePayload returns the bytes to persist for payload and whether they are
// compressed. Compression is dropped when it would not shrink the payload.
func encodePayload(payload []byte, compress bool) ([]byte, bool) {
	if !compress || len(payload) == 0 {
		return payload, false
	}
	packed := zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	if len(packed) >= len(payload) {
		return payload, false
	}
	return packed, true
}

// decodePayload reverses encodePayload.
func decodePayload(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	out, err := zstdDecoder.DecodeAll(stored, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress: %w", err)
	}
	return out, nil
}
