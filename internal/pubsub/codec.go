package pubsub

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// messageSchemaJSON is the wire schema for envelope payloads. Producers
// and consumers agree on it out of band; it never evolves in place (new
// control types extend the controlType enum space instead).
const messageSchemaJSON = `{
  "type": "record",
  "name": "MessageEnvelope",
  "namespace": "com.venice.pubsub",
  "fields": [
    {"name": "messageType", "type": "int"},
    {"name": "put", "type": ["null", {
      "type": "record",
      "name": "Put",
      "fields": [
        {"name": "schemaId", "type": "int"},
        {"name": "value", "type": "bytes"},
        {"name": "replicationMetadataVersionId", "type": "int"},
        {"name": "replicationMetadataPayload", "type": "bytes"}
      ]
    }], "default": null},
    {"name": "delete", "type": ["null", {
      "type": "record",
      "name": "Delete",
      "fields": [
        {"name": "replicationMetadataVersionId", "type": "int"},
        {"name": "replicationMetadataPayload", "type": "bytes"}
      ]
    }], "default": null},
    {"name": "control", "type": ["null", {
      "type": "record",
      "name": "Control",
      "fields": [
        {"name": "controlType", "type": "int"},
        {"name": "compressionDictionary", "type": "bytes", "default": ""},
        {"name": "newServingVersionTopic", "type": "string", "default": ""},
        {"name": "localHighWatermarks", "type": {"type": "array", "items": "long"}, "default": []}
      ]
    }], "default": null}
  ]
}`

// MessageSchema is the parsed wire schema for envelope payloads.
var MessageSchema = avro.MustParse(messageSchemaJSON)

// MarshalMessage encodes a message payload to its wire form.
func MarshalMessage(m Message) ([]byte, error) {
	b, err := avro.Marshal(MessageSchema, m)
	if err != nil {
		return nil, fmt.Errorf("pubsub: encode message: %w", err)
	}
	return b, nil
}

// UnmarshalMessage decodes an envelope payload from its wire form.
// Truncated or otherwise undecodable input is an error.
func UnmarshalMessage(b []byte) (Message, error) {
	var m Message
	// avro.Unmarshal reports running out of input as success; reading
	// through a Reader keeps that error.
	r := avro.NewReader(nil, 0).Reset(b)
	r.ReadVal(MessageSchema, &m)
	if r.Error != nil {
		return Message{}, fmt.Errorf("pubsub: decode message: %w", r.Error)
	}
	return m, nil
}
