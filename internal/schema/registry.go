// Package schema caches the store's Avro schemas and builds the
// deserializers the change consumer decodes records with. All lookups
// are read-through against the control plane; once a schema is fetched
// it is held for the consumer's lifetime (schemas are immutable).
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hamba/avro/v2"

	"github.com/jayaprabhakar/venice/internal/logging"
	"github.com/jayaprabhakar/venice/internal/metadata"
)

// Registry caches key, value, and replication-metadata schemas by id,
// plus writer/reader schema resolutions.
type Registry struct {
	client metadata.Client
	store  string
	logger *slog.Logger

	mu        sync.RWMutex
	keySchema avro.Schema
	values    map[int32]avro.Schema
	rmds      map[int32]avro.Schema
	resolved  map[[2]int32]avro.Schema
	latestID  int32

	compat *avro.SchemaCompatibility
}

// NewRegistry returns a registry for the given store.
func NewRegistry(client metadata.Client, store string, logger *slog.Logger) *Registry {
	return &Registry{
		client:   client,
		store:    store,
		logger:   logging.Default(logger).With("component", "schema-registry", "store", store),
		values:   make(map[int32]avro.Schema),
		rmds:     make(map[int32]avro.Schema),
		resolved: make(map[[2]int32]avro.Schema),
		compat:   avro.NewSchemaCompatibility(),
	}
}

// KeySchema returns the store's key schema. Fixed for the store's
// lifetime, so the first successful fetch is final.
func (r *Registry) KeySchema(ctx context.Context) (avro.Schema, error) {
	r.mu.RLock()
	s := r.keySchema
	r.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	doc, err := r.client.GetKeySchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("key schema for %s: %w", r.store, err)
	}
	parsed, err := avro.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("key schema for %s: %w", r.store, err)
	}

	r.mu.Lock()
	if r.keySchema == nil {
		r.keySchema = parsed
	}
	s = r.keySchema
	r.mu.Unlock()
	return s, nil
}

// ValueSchema returns the value schema registered under id.
func (r *Registry) ValueSchema(ctx context.Context, id int32) (avro.Schema, error) {
	r.mu.RLock()
	s, ok := r.values[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	doc, err := r.client.GetValueSchema(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("value schema %d for %s: %w", id, r.store, err)
	}
	parsed, err := avro.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("value schema %d for %s: %w", id, r.store, err)
	}

	r.mu.Lock()
	r.values[id] = parsed
	r.mu.Unlock()
	return parsed, nil
}

// LatestValueSchemaID returns the highest registered value schema id.
// Cached for the consumer's lifetime.
func (r *Registry) LatestValueSchemaID(ctx context.Context) (int32, error) {
	r.mu.RLock()
	id := r.latestID
	r.mu.RUnlock()
	if id != 0 {
		return id, nil
	}

	id, err := r.client.LatestValueSchemaID(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest value schema id for %s: %w", r.store, err)
	}

	r.mu.Lock()
	r.latestID = id
	r.mu.Unlock()
	return id, nil
}

// ReplicationMetadataSchema returns the replication metadata schema
// registered under id.
func (r *Registry) ReplicationMetadataSchema(ctx context.Context, id int32) (avro.Schema, error) {
	r.mu.RLock()
	s, ok := r.rmds[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	doc, err := r.client.GetReplicationMetadataSchema(ctx, r.store, id)
	if err != nil {
		return nil, fmt.Errorf("replication metadata schema %d for %s: %w", id, r.store, err)
	}
	parsed, err := avro.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("replication metadata schema %d for %s: %w", id, r.store, err)
	}

	r.mu.Lock()
	r.rmds[id] = parsed
	r.mu.Unlock()
	return parsed, nil
}

// Resolved returns the schema to decode data written with writerID and
// read at readerID. Equal ids short-circuit to the writer schema;
// unequal pairs go through Avro schema resolution and the result is
// cached.
func (r *Registry) Resolved(ctx context.Context, writerID, readerID int32) (avro.Schema, error) {
	if writerID == readerID {
		return r.ValueSchema(ctx, writerID)
	}

	key := [2]int32{writerID, readerID}
	r.mu.RLock()
	s, ok := r.resolved[key]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	writer, err := r.ValueSchema(ctx, writerID)
	if err != nil {
		return nil, err
	}
	reader, err := r.ValueSchema(ctx, readerID)
	if err != nil {
		return nil, err
	}
	resolved, err := r.compat.Resolve(reader, writer)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %d against %d for %s: %w", writerID, readerID, r.store, err)
	}

	r.mu.Lock()
	r.resolved[key] = resolved
	r.mu.Unlock()
	return resolved, nil
}
