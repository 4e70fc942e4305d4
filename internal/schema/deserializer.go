package schema

import (
	"context"
	"sync"

	"github.com/hamba/avro/v2"
)

// Deserializer decodes Avro-encoded bytes into T.
//
// The value-class choice is made at instantiation: T = a concrete
// struct type gives record-to-struct ("specific") decoding, T = any
// gives schema-driven native values ("generic", records decode to
// map[string]any). The choice is fixed at construction and never
// switches at runtime.
type Deserializer[T any] interface {
	Deserialize(data []byte) (T, error)
}

type avroDeserializer[T any] struct {
	schema avro.Schema
}

// NewDeserializer returns a Deserializer decoding with the given schema.
func NewDeserializer[T any](s avro.Schema) Deserializer[T] {
	return avroDeserializer[T]{schema: s}
}

func (d avroDeserializer[T]) Deserialize(data []byte) (T, error) {
	var v T
	if err := avro.Unmarshal(d.schema, data, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// DeserializerProvider caches deserializers by (writer, reader) schema
// id pair on top of a Registry.
type DeserializerProvider[T any] struct {
	registry *Registry

	mu    sync.RWMutex
	cache map[[2]int32]Deserializer[T]
}

// NewDeserializerProvider returns an empty provider over registry.
func NewDeserializerProvider[T any](registry *Registry) *DeserializerProvider[T] {
	return &DeserializerProvider[T]{
		registry: registry,
		cache:    make(map[[2]int32]Deserializer[T]),
	}
}

// Deserializer returns the cached deserializer for the id pair,
// resolving and caching it on first use.
func (p *DeserializerProvider[T]) Deserializer(ctx context.Context, writerID, readerID int32) (Deserializer[T], error) {
	key := [2]int32{writerID, readerID}
	p.mu.RLock()
	d, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return d, nil
	}

	s, err := p.registry.Resolved(ctx, writerID, readerID)
	if err != nil {
		return nil, err
	}
	d = NewDeserializer[T](s)

	p.mu.Lock()
	p.cache[key] = d
	p.mu.Unlock()
	return d, nil
}
