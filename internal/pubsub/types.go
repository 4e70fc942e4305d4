// Package pubsub defines the broker abstraction the change consumer is
// built against: topic-partitions, the message envelope model, the Avro
// wire codec, and the Consumer interface. Concrete implementations live
// in the kafka and memory subpackages.
package pubsub

import (
	"fmt"
	"time"
)

// TopicPartition identifies one partition of one topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// MessageType discriminates the envelope payload union.
type MessageType int32

const (
	MessageTypePut MessageType = iota
	MessageTypeDelete
	MessageTypeControl
)

// ControlType identifies a control message. Unknown values are skipped
// by consumers, so new control types can be introduced upstream without
// breaking old readers.
type ControlType int32

const (
	ControlStartOfPush ControlType = iota
	ControlEndOfPush
	ControlStartOfSegment
	ControlEndOfSegment
	ControlTopicSwitch
	ControlVersionSwap
)

// Put carries a new value for a key. On version topics the value bytes
// are compressed with the version's compression strategy; on
// change-capture topics they hold a serialized RecordChangeEvent.
type Put struct {
	SchemaID                     int32  `avro:"schemaId"`
	Value                        []byte `avro:"value"`
	ReplicationMetadataVersionID int32  `avro:"replicationMetadataVersionId"`
	ReplicationMetadataPayload   []byte `avro:"replicationMetadataPayload"`
}

// Delete marks a key as removed.
type Delete struct {
	ReplicationMetadataVersionID int32  `avro:"replicationMetadataVersionId"`
	ReplicationMetadataPayload   []byte `avro:"replicationMetadataPayload"`
}

// Control is a broker-level marker driving consumer topic management.
// Only the fields relevant to the control type are populated.
type Control struct {
	Type ControlType `avro:"controlType"`

	// CompressionDictionary is set on START_OF_PUSH for stores pushed
	// with dictionary compression.
	CompressionDictionary []byte `avro:"compressionDictionary"`

	// NewServingVersionTopic is set on VERSION_SWAP.
	NewServingVersionTopic string `avro:"newServingVersionTopic"`

	// LocalHighWatermarks is the replication checkpoint vector observed
	// upstream at swap time. Set on VERSION_SWAP.
	LocalHighWatermarks []int64 `avro:"localHighWatermarks"`
}

// Message is the decoded envelope payload. Exactly one of Put, Delete,
// Control is non-nil, matching Type.
type Message struct {
	Type    MessageType `avro:"messageType"`
	Put     *Put        `avro:"put"`
	Delete  *Delete     `avro:"delete"`
	Control *Control    `avro:"control"`
}

// Envelope is one consumed log entry: the record key, the decoded
// payload, and the broker position metadata.
type Envelope struct {
	Key         []byte
	Message     Message
	Offset      int64
	Timestamp   time.Time
	PayloadSize int
}
