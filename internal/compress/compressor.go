// Package compress selects and caches the decompressor for each
// version topic. Batch pushes may compress values with gzip or with
// zstd bound to a per-version trained dictionary; change-capture
// topics are never compressed.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrDictionaryUnavailable is returned when a version topic's zstd
// dictionary cannot be read. The partition cannot be consumed.
var ErrDictionaryUnavailable = errors.New("compress: dictionary unavailable")

// Compressor decompresses record values. Implementations are safe for
// concurrent use.
type Compressor interface {
	Decompress(data []byte) ([]byte, error)
}

type noopCompressor struct{}

func (noopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// Noop returns the pass-through compressor used for uncompressed
// versions and all change-capture topics.
func Noop() Compressor { return noopCompressor{} }

type gzipCompressor struct{}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

// Gzip returns the stateless gzip compressor.
func Gzip() Compressor { return gzipCompressor{} }

type zstdDictCompressor struct {
	dec *zstd.Decoder
}

// NewZstdWithDict returns a compressor bound to the given trained
// dictionary.
func NewZstdWithDict(dict []byte) (Compressor, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderDicts(dict),
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd: init decoder: %w", err)
	}
	return &zstdDictCompressor{dec: dec}, nil
}

func (c *zstdDictCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
