// Package memory provides an in-memory control plane. Tests register
// stores and schemas directly; the CLI loads them from a JSON fixture.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jayaprabhakar/venice/internal/metadata"
)

// Client is an in-memory metadata.Client.
type Client struct {
	mu         sync.RWMutex
	stores     map[string]metadata.StoreInfo
	keySchema  string
	valueByID  map[int32]string
	latestID   int32
	rmdSchemas map[int32]string
}

// NewClient returns an empty in-memory control plane.
func NewClient() *Client {
	return &Client{
		stores:     make(map[string]metadata.StoreInfo),
		valueByID:  make(map[int32]string),
		rmdSchemas: make(map[int32]string),
	}
}

// RegisterStore adds or replaces a store definition.
func (c *Client) RegisterStore(info metadata.StoreInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[info.Name] = info
}

// SetKeySchema sets the store's key schema document.
func (c *Client) SetKeySchema(schema string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keySchema = schema
}

// RegisterValueSchema adds a value schema under the given id. The
// highest registered id becomes the latest.
func (c *Client) RegisterValueSchema(id int32, schema string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valueByID[id] = schema
	if id > c.latestID {
		c.latestID = id
	}
}

// RegisterReplicationMetadataSchema adds a replication metadata schema
// under the given id.
func (c *Client) RegisterReplicationMetadataSchema(id int32, schema string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rmdSchemas[id] = schema
}

func (c *Client) GetStore(_ context.Context, name string) (metadata.StoreInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.stores[name]
	if !ok {
		return metadata.StoreInfo{}, fmt.Errorf("%w: %s", metadata.ErrStoreNotFound, name)
	}
	return info, nil
}

func (c *Client) GetKeySchema(context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keySchema == "" {
		return "", fmt.Errorf("%w: key schema", metadata.ErrSchemaNotFound)
	}
	return c.keySchema, nil
}

func (c *Client) GetValueSchema(_ context.Context, id int32) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.valueByID[id]
	if !ok {
		return "", fmt.Errorf("%w: value schema %d", metadata.ErrSchemaNotFound, id)
	}
	return schema, nil
}

func (c *Client) LatestValueSchemaID(context.Context) (int32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latestID == 0 {
		return 0, fmt.Errorf("%w: no value schemas registered", metadata.ErrSchemaNotFound)
	}
	return c.latestID, nil
}

func (c *Client) GetReplicationMetadataSchema(_ context.Context, _ string, rmdID int32) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.rmdSchemas[rmdID]
	if !ok {
		return "", fmt.Errorf("%w: replication metadata schema %d", metadata.ErrSchemaNotFound, rmdID)
	}
	return schema, nil
}
