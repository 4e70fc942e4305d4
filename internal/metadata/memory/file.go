package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jayaprabhakar/venice/internal/metadata"
)

// fixture is the JSON shape LoadFile accepts. Schema documents are
// embedded as raw JSON so fixtures stay single-file.
type fixture struct {
	Store struct {
		Name           string `json:"name"`
		CurrentVersion int    `json:"currentVersion"`
		PartitionCount int    `json:"partitionCount"`
		Versions       []struct {
			Version     int    `json:"version"`
			Compression string `json:"compression"`
		} `json:"versions"`
	} `json:"store"`
	KeySchema    json.RawMessage            `json:"keySchema"`
	ValueSchemas map[string]json.RawMessage `json:"valueSchemas"`
	RMDSchemas   map[string]json.RawMessage `json:"replicationMetadataSchemas"`
}

// LoadFile builds a control plane from a JSON fixture on disk.
func LoadFile(path string) (*Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata fixture: %w", err)
	}

	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("metadata fixture %s: %w", path, err)
	}
	if f.Store.Name == "" {
		return nil, fmt.Errorf("metadata fixture %s: store.name is required", path)
	}
	if f.Store.PartitionCount <= 0 {
		return nil, fmt.Errorf("metadata fixture %s: store.partitionCount must be positive", path)
	}

	info := metadata.StoreInfo{
		Name:           f.Store.Name,
		CurrentVersion: f.Store.CurrentVersion,
		PartitionCount: f.Store.PartitionCount,
	}
	for _, v := range f.Store.Versions {
		strategy, err := parseCompression(v.Compression)
		if err != nil {
			return nil, fmt.Errorf("metadata fixture %s: version %d: %w", path, v.Version, err)
		}
		info.Versions = append(info.Versions, metadata.VersionInfo{
			Version:     v.Version,
			Compression: strategy,
		})
	}

	c := NewClient()
	c.RegisterStore(info)
	c.SetKeySchema(string(f.KeySchema))
	for id, schema := range f.ValueSchemas {
		n, err := parseID(id)
		if err != nil {
			return nil, fmt.Errorf("metadata fixture %s: value schema id %q: %w", path, id, err)
		}
		c.RegisterValueSchema(n, string(schema))
	}
	for id, schema := range f.RMDSchemas {
		n, err := parseID(id)
		if err != nil {
			return nil, fmt.Errorf("metadata fixture %s: rmd schema id %q: %w", path, id, err)
		}
		c.RegisterReplicationMetadataSchema(n, string(schema))
	}
	return c, nil
}

func parseCompression(s string) (metadata.CompressionStrategy, error) {
	switch s {
	case "", "none":
		return metadata.CompressionNone, nil
	case "gzip":
		return metadata.CompressionGzip, nil
	case "zstd_with_dict":
		return metadata.CompressionZstdWithDict, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q (supported: none, gzip, zstd_with_dict)", s)
	}
}

func parseID(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}
