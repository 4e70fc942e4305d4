package schema

import (
	"context"
	"fmt"

	"github.com/hamba/avro/v2"
)

// recordChangeEventSchemaJSON is the fixed protocol schema for values
// on change-capture topics. It does not come from the control plane:
// every change-capture producer writes this exact record, carrying the
// before/after images as nested serialized values.
const recordChangeEventSchemaJSON = `{
  "type": "record",
  "name": "RecordChangeEvent",
  "namespace": "com.venice.protocol",
  "fields": [
    {"name": "key", "type": "bytes"},
    {"name": "previousValue", "type": ["null", {
      "type": "record",
      "name": "ValueBytes",
      "fields": [
        {"name": "schemaId", "type": "int"},
        {"name": "value", "type": "bytes"}
      ]
    }], "default": null},
    {"name": "currentValue", "type": ["null", "ValueBytes"], "default": null},
    {"name": "replicationCheckpointVector", "type": {"type": "array", "items": "long"}, "default": []}
  ]
}`

// RecordChangeEventSchema is the parsed change-capture protocol schema.
var RecordChangeEventSchema = avro.MustParse(recordChangeEventSchemaJSON)

// ValueBytes is a serialized value together with the schema id it was
// written with.
type ValueBytes struct {
	SchemaID int32  `avro:"schemaId"`
	Value    []byte `avro:"value"`
}

// RecordChangeEvent is the decoded change-capture payload: the key,
// optional before and after images, and the replication checkpoint
// vector gating staleness filtering.
type RecordChangeEvent struct {
	Key                         []byte      `avro:"key"`
	PreviousValue               *ValueBytes `avro:"previousValue"`
	CurrentValue                *ValueBytes `avro:"currentValue"`
	ReplicationCheckpointVector []int64     `avro:"replicationCheckpointVector"`
}

// DecodeRecordChangeEvent decodes a change-capture payload.
func DecodeRecordChangeEvent(data []byte) (RecordChangeEvent, error) {
	var e RecordChangeEvent
	if err := avro.Unmarshal(RecordChangeEventSchema, data, &e); err != nil {
		return RecordChangeEvent{}, fmt.Errorf("decode record change event: %w", err)
	}
	return e, nil
}

// replicationMetadata is the slice of the replication metadata record
// the consumer cares about. Additional fields in the store's RMD schema
// are skipped by Avro decoding.
type replicationMetadata struct {
	ReplicationCheckpointVector []int64 `avro:"replicationCheckpointVector"`
}

// CheckpointVector extracts the replication checkpoint vector from a
// replication metadata payload, using the RMD schema registered under
// rmdID. An empty payload yields a nil vector (no filtering basis).
func (r *Registry) CheckpointVector(ctx context.Context, rmdID int32, payload []byte) ([]int64, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	s, err := r.ReplicationMetadataSchema(ctx, rmdID)
	if err != nil {
		return nil, err
	}
	var md replicationMetadata
	if err := avro.Unmarshal(s, payload, &md); err != nil {
		return nil, fmt.Errorf("decode replication metadata (schema %d): %w", rmdID, err)
	}
	return md.ReplicationCheckpointVector, nil
}

// ReplicationMetadataSchemaJSON is the canonical replication metadata
// schema. Control planes serve it (or a superset) under each RMD
// version id; tests and fixtures register it directly.
const ReplicationMetadataSchemaJSON = `{
  "type": "record",
  "name": "ReplicationMetadata",
  "namespace": "com.venice.protocol",
  "fields": [
    {"name": "replicationCheckpointVector", "type": {"type": "array", "items": "long"}, "default": []}
  ]
}`
