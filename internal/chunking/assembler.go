// Package chunking reassembles logical records that were split across
// several log messages. Oversized values are produced as a run of
// fragment messages, each under its own chunk key, terminated by a
// manifest naming the fragments in order and the expected total size.
package chunking

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hamba/avro/v2"

	"github.com/jayaprabhakar/venice/internal/compress"
	"github.com/jayaprabhakar/venice/internal/logging"
)

// Reserved schema ids marking chunked transport records. Real value
// schema ids are positive.
const (
	ChunkSchemaID         int32 = -10
	ChunkManifestSchemaID int32 = -20
)

// ErrProtocol is a chunking protocol violation: a manifest naming a
// fragment that never arrived, a duplicate fragment key, or a size
// mismatch. Fatal for the partition; the caller must reseek.
var ErrProtocol = errors.New("chunking: protocol error")

// manifestSchemaJSON is the wire schema of the terminating manifest.
const manifestSchemaJSON = `{
  "type": "record",
  "name": "ChunkManifest",
  "namespace": "com.venice.protocol",
  "fields": [
    {"name": "schemaId", "type": "int"},
    {"name": "totalSize", "type": "int"},
    {"name": "segmentKeys", "type": {"type": "array", "items": "bytes"}}
  ]
}`

// ManifestSchema is the parsed manifest schema.
var ManifestSchema = avro.MustParse(manifestSchemaJSON)

// Manifest terminates a chunked record: the writer schema id of the
// assembled value, its total byte size, and the fragment keys in
// assembly order.
type Manifest struct {
	SchemaID    int32    `avro:"schemaId"`
	TotalSize   int32    `avro:"totalSize"`
	SegmentKeys [][]byte `avro:"segmentKeys"`
}

// DeserializeFunc decodes an assembled (and decompressed) value that
// was written with the given schema id.
type DeserializeFunc[V any] func(writerSchemaID int32, data []byte) (V, error)

type bufferKey struct {
	partition int32
	key       string
}

// Assembler buffers fragments per (partition, chunk key) until their
// manifest arrives. It is driven from the consumer's poll path and its
// seek and unsubscribe paths, always under the consumer mutex, so it
// does no locking of its own.
type Assembler[V any] struct {
	buffers map[bufferKey][]byte
	logger  *slog.Logger
}

// New returns an empty assembler.
func New[V any](logger *slog.Logger) *Assembler[V] {
	return &Assembler[V]{
		buffers: make(map[bufferKey][]byte),
		logger:  logging.Default(logger).With("component", "chunk-assembler"),
	}
}

// BufferAndAssemble feeds one record through chunk reassembly.
//
// Fragments (schemaID == ChunkSchemaID) are buffered and yield nothing.
// A manifest (schemaID == ChunkManifestSchemaID) concatenates its
// segments in order, decompresses, deserializes at the manifest's
// writer schema id, and drops the buffers. Any other schema id is a
// plain record: decompressed and deserialized immediately.
//
// A nil value with a nil error means the record is still under
// assembly and nothing is emitted.
func (a *Assembler[V]) BufferAndAssemble(
	partition int32,
	key []byte,
	schemaID int32,
	value []byte,
	compressor compress.Compressor,
	deserialize DeserializeFunc[V],
) (*V, error) {
	switch schemaID {
	case ChunkSchemaID:
		bk := bufferKey{partition: partition, key: string(key)}
		if _, ok := a.buffers[bk]; ok {
			return nil, fmt.Errorf("%w: duplicate fragment key %x on partition %d", ErrProtocol, key, partition)
		}
		// Copy: the poll batch's backing array is reused.
		buf := make([]byte, len(value))
		copy(buf, value)
		a.buffers[bk] = buf
		return nil, nil

	case ChunkManifestSchemaID:
		var m Manifest
		if err := avro.Unmarshal(ManifestSchema, value, &m); err != nil {
			return nil, fmt.Errorf("%w: undecodable manifest on partition %d: %v", ErrProtocol, partition, err)
		}
		assembled := make([]byte, 0, m.TotalSize)
		for _, segKey := range m.SegmentKeys {
			bk := bufferKey{partition: partition, key: string(segKey)}
			frag, ok := a.buffers[bk]
			if !ok {
				return nil, fmt.Errorf("%w: manifest names missing fragment %x on partition %d", ErrProtocol, segKey, partition)
			}
			assembled = append(assembled, frag...)
		}
		if int32(len(assembled)) != m.TotalSize {
			return nil, fmt.Errorf("%w: assembled %d bytes, manifest expects %d on partition %d",
				ErrProtocol, len(assembled), m.TotalSize, partition)
		}
		for _, segKey := range m.SegmentKeys {
			delete(a.buffers, bufferKey{partition: partition, key: string(segKey)})
		}
		return a.finish(m.SchemaID, assembled, compressor, deserialize)

	default:
		return a.finish(schemaID, value, compressor, deserialize)
	}
}

func (a *Assembler[V]) finish(
	writerSchemaID int32,
	data []byte,
	compressor compress.Compressor,
	deserialize DeserializeFunc[V],
) (*V, error) {
	plain, err := compressor.Decompress(data)
	if err != nil {
		return nil, err
	}
	v, err := deserialize(writerSchemaID, plain)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ClearPartition drops every buffer for the partition. Called on topic
// cutover: in-flight fragments belong to the retired topic.
func (a *Assembler[V]) ClearPartition(partition int32) {
	dropped := 0
	for bk := range a.buffers {
		if bk.partition == partition {
			delete(a.buffers, bk)
			dropped++
		}
	}
	if dropped > 0 {
		a.logger.Debug("dropped in-flight fragments", "partition", partition, "fragments", dropped)
	}
}

// Clear drops all buffers.
func (a *Assembler[V]) Clear() {
	clear(a.buffers)
}

// Pending returns the number of fragments currently buffered.
func (a *Assembler[V]) Pending() int {
	return len(a.buffers)
}
