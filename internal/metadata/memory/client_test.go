package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jayaprabhakar/venice/internal/metadata"
)

func TestStoreLookup(t *testing.T) {
	c := NewClient()
	c.RegisterStore(metadata.StoreInfo{
		Name:           "orders",
		CurrentVersion: 2,
		PartitionCount: 4,
		Versions: []metadata.VersionInfo{
			{Version: 1, Compression: metadata.CompressionGzip},
			{Version: 2, Compression: metadata.CompressionZstdWithDict},
		},
	})

	info, err := c.GetStore(context.Background(), "orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.CurrentVersion != 2 || info.PartitionCount != 4 {
		t.Errorf("store info mismatch: %+v", info)
	}

	v, ok := info.Version(2)
	if !ok || v.Compression != metadata.CompressionZstdWithDict {
		t.Errorf("version lookup: %+v ok=%v", v, ok)
	}

	if _, err := c.GetStore(context.Background(), "nope"); !errors.Is(err, metadata.ErrStoreNotFound) {
		t.Errorf("expected ErrStoreNotFound, got %v", err)
	}
}

func TestSchemaLookup(t *testing.T) {
	c := NewClient()
	c.SetKeySchema(`"string"`)
	c.RegisterValueSchema(1, `"int"`)
	c.RegisterValueSchema(7, `"long"`)
	c.RegisterReplicationMetadataSchema(1, `"bytes"`)

	ctx := context.Background()
	if s, err := c.GetKeySchema(ctx); err != nil || s != `"string"` {
		t.Errorf("key schema: %q, %v", s, err)
	}
	if s, err := c.GetValueSchema(ctx, 7); err != nil || s != `"long"` {
		t.Errorf("value schema 7: %q, %v", s, err)
	}
	if id, err := c.LatestValueSchemaID(ctx); err != nil || id != 7 {
		t.Errorf("latest id: %d, %v", id, err)
	}
	if _, err := c.GetValueSchema(ctx, 9); !errors.Is(err, metadata.ErrSchemaNotFound) {
		t.Errorf("expected ErrSchemaNotFound, got %v", err)
	}
	if s, err := c.GetReplicationMetadataSchema(ctx, "orders", 1); err != nil || s != `"bytes"` {
		t.Errorf("rmd schema: %q, %v", s, err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	doc := `{
	  "store": {
	    "name": "orders",
	    "currentVersion": 1,
	    "partitionCount": 2,
	    "versions": [{"version": 1, "compression": "gzip"}]
	  },
	  "keySchema": "string",
	  "valueSchemas": {"1": "bytes"},
	  "replicationMetadataSchemas": {"1": "bytes"}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := c.GetStore(context.Background(), "orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PartitionCount != 2 {
		t.Errorf("partition count: %d", info.PartitionCount)
	}
	v, ok := info.Version(1)
	if !ok || v.Compression != metadata.CompressionGzip {
		t.Errorf("version 1: %+v ok=%v", v, ok)
	}
}

func TestLoadFileRejectsBadCompression(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	doc := `{"store": {"name": "s", "partitionCount": 1, "versions": [{"version": 1, "compression": "lz4"}]}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unsupported compression")
	}
}
