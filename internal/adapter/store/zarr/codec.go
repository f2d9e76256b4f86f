package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"

	"go.ngs.io/ensemble-store/internal/adapter/store"
)

// codec encodes chunks as little-endian values with optional zstd compression.
type codec struct {
	encoder     *zstd.Encoder
	decoderPool sync.Pool
}

func newCodec(level int) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &codec{
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					// This should never fail with nil input and default options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}, nil
}

func (c *codec) close() {
	_ = c.encoder.Close()
}

func dtypeCode(d store.DType) string {
	switch d {
	case store.Float64:
		return "<f8"
	case store.Int32:
		return "<i4"
	}
	return "<f4"
}

func parseDType(code string) (store.DType, int, error) {
	switch code {
	case "<f4":
		return store.Float32, 4, nil
	case "<f8":
		return store.Float64, 8, nil
	case "<i4":
		return store.Int32, 4, nil
	}
	return 0, 0, fmt.Errorf("unsupported zarr dtype %q", code)
}

func (c *codec) encode(values []float64, dtype string, compress bool) ([]byte, error) {
	_, width, err := parseDType(dtype)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, len(values)*width)
	for i, v := range values {
		switch dtype {
		case "<f4":
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(v)))
		case "<f8":
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
		case "<i4":
			binary.LittleEndian.PutUint32(raw[i*4:], uint32(int32(v)))
		}
	}
	if !compress {
		return raw, nil
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *codec) decode(data []byte, dtype string, compressed bool, n int) ([]float64, error) {
	_, width, err := parseDType(dtype)
	if err != nil {
		return nil, err
	}
	if compressed {
		decoder := c.decoderPool.Get().(*zstd.Decoder)
		defer c.decoderPool.Put(decoder)
		data, err = decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
	}
	if len(data) != n*width {
		return nil, fmt.Errorf("chunk has %d bytes, expected %d", len(data), n*width)
	}

	out := make([]float64, n)
	for i := range out {
		switch dtype {
		case "<f4":
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		case "<f8":
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		case "<i4":
			out[i] = float64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}
	return out, nil
}
