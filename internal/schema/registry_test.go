package schema

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/hamba/avro/v2"

	"github.com/jayaprabhakar/venice/internal/metadata"
	metamem "github.com/jayaprabhakar/venice/internal/metadata/memory"
)

// countingClient wraps a metadata client and counts lookups, to prove
// the registry is read-through-once.
type countingClient struct {
	metadata.Client
	valueLookups atomic.Int32
	keyLookups   atomic.Int32
}

func (c *countingClient) GetValueSchema(ctx context.Context, id int32) (string, error) {
	c.valueLookups.Add(1)
	return c.Client.GetValueSchema(ctx, id)
}

func (c *countingClient) GetKeySchema(ctx context.Context) (string, error) {
	c.keyLookups.Add(1)
	return c.Client.GetKeySchema(ctx)
}

func newTestClient() *countingClient {
	m := metamem.NewClient()
	m.SetKeySchema(`"string"`)
	m.RegisterValueSchema(1, `{"type":"record","name":"V","fields":[{"name":"a","type":"int"}]}`)
	m.RegisterValueSchema(2, `{"type":"record","name":"V","fields":[{"name":"a","type":"int"},{"name":"b","type":"string","default":""}]}`)
	m.RegisterReplicationMetadataSchema(1, ReplicationMetadataSchemaJSON)
	return &countingClient{Client: m}
}

func TestValueSchemaCached(t *testing.T) {
	client := newTestClient()
	r := NewRegistry(client, "orders", nil)
	ctx := context.Background()

	for range 3 {
		if _, err := r.ValueSchema(ctx, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := client.valueLookups.Load(); got != 1 {
		t.Errorf("expected 1 control-plane lookup, got %d", got)
	}
}

func TestKeySchemaFixed(t *testing.T) {
	client := newTestClient()
	r := NewRegistry(client, "orders", nil)
	ctx := context.Background()

	s1, err := r.KeySchema(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := r.KeySchema(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 != s2 {
		t.Error("key schema must be stable across calls")
	}
	if got := client.keyLookups.Load(); got != 1 {
		t.Errorf("expected 1 key schema lookup, got %d", got)
	}
}

func TestResolvedCrossSchema(t *testing.T) {
	client := newTestClient()
	r := NewRegistry(client, "orders", nil)
	ctx := context.Background()

	// Encode with writer schema 1, decode at reader schema 2: the added
	// field takes its default.
	writer, err := r.ValueSchema(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := avro.Marshal(writer, map[string]any{"a": 41})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resolved, err := r.Resolved(ctx, 1, 2)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var out map[string]any
	if err := avro.Unmarshal(resolved, data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"] != 41 {
		t.Errorf("field a: got %v", out["a"])
	}
	if out["b"] != "" {
		t.Errorf("field b should take its default, got %v", out["b"])
	}

	// Second resolution hits the cache.
	again, err := r.Resolved(ctx, 1, 2)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again != resolved {
		t.Error("expected cached resolved schema")
	}
}

func TestDeserializerProviderCaches(t *testing.T) {
	client := newTestClient()
	r := NewRegistry(client, "orders", nil)
	p := NewDeserializerProvider[map[string]any](r)
	ctx := context.Background()

	d1, err := p.Deserializer(ctx, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := p.Deserializer(ctx, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 != d2 {
		t.Error("expected cached deserializer")
	}
	if got := client.valueLookups.Load(); got != 1 {
		t.Errorf("expected 1 value schema lookup, got %d", got)
	}
}

func TestSpecificDeserialization(t *testing.T) {
	client := newTestClient()
	r := NewRegistry(client, "orders", nil)
	ctx := context.Background()

	type v struct {
		A int `avro:"a"`
	}
	writer, err := r.ValueSchema(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := avro.Marshal(writer, v{A: 7})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	d := NewDeserializer[v](writer)
	got, err := d.Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.A != 7 {
		t.Errorf("got %+v", got)
	}
}
