package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the payload compression.
type Codec uint8

const (
	// CodecNone stores the payload as is.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast).
	CodecLZ4 Codec = 1
	// CodecZstd uses zstd (better ratio).
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ErrUnknownCodec is returned for a codec this package cannot handle.
var ErrUnknownCodec = errors.New("capture: unknown codec")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

// lz4MaxRatio is the largest expansion of an LZ4 block.
const lz4MaxRatio = 255

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxRecords*recordSize),
	)
}

// compress returns the encoded payload. LZ4 falls back to CodecNone when the
// data does not compress.
func compress(c Codec, raw []byte) ([]byte, Codec, error) {
	switch c {
	case CodecNone:
		return raw, CodecNone, nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("capture: lz4: %w", err)
		}
		if n == 0 {
			return raw, CodecNone, nil
		}
		return dst[:n], CodecLZ4, nil
	case CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, 0, fmt.Errorf("capture: zstd: %w", err)
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil), CodecZstd, nil
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownCodec, c)
	}
}

// decompress expands data into at most rawSize bytes. rawSize comes from
// the header and is checked against what the payload can hold before any
// buffer is sized from it.
func decompress(c Codec, data []byte, rawSize int) ([]byte, error) {
	switch c {
	case CodecNone:
		if len(data) != rawSize {
			return nil, fmt.Errorf("%w: payload is %d bytes, want %d", ErrCorrupt, len(data), rawSize)
		}
		return data, nil
	case CodecLZ4:
		if rawSize/lz4MaxRatio > len(data) {
			return nil, fmt.Errorf("%w: lz4: %d bytes cannot expand to %d", ErrCorrupt, len(data), rawSize)
		}
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
		}
		return raw[:n], nil
	case CodecZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("capture: zstd: %w", err)
		}
		defer func() {
			_ = dec.Reset(nil)
			zstdDecoderPool.Put(dec)
		}()
		if err := dec.Reset(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		// Read one byte past rawSize so an oversized payload is detected
		// without buffering it; the buffer grows with the real output.
		raw, err := io.ReadAll(io.LimitReader(dec, int64(rawSize)+1))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, c)
	}
}
