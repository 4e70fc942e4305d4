package compress

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/jayaprabhakar/venice/internal/callgroup"
	"github.com/jayaprabhakar/venice/internal/logging"
	"github.com/jayaprabhakar/venice/internal/metadata"
	"github.com/jayaprabhakar/venice/internal/pubsub"
)

// DictionaryFetcher reads the compression dictionary carried by the
// START_OF_PUSH control message at the beginning of a version topic.
// Implementations use a short-lived reader of their own so the main
// poll assignment is never perturbed.
type DictionaryFetcher func(ctx context.Context, versionTopic string, partition int32) ([]byte, error)

// Registry caches one Compressor per version topic, fetching zstd
// dictionaries lazily on first use. Compressors live as long as the
// version topic they belong to.
//
// Reads are lock-free against an atomic map snapshot so the poll loop
// never contends with a dictionary fetch; writes copy-on-write under a
// mutex. Concurrent fetches for the same topic are collapsed to one.
type Registry struct {
	client metadata.Client
	fetch  DictionaryFetcher
	logger *slog.Logger

	snapshot atomic.Pointer[map[string]Compressor]
	writeMu  sync.Mutex
	fetches  callgroup.Group[string]
}

// NewRegistry returns a registry resolving compression strategies
// through the control plane and dictionaries through fetch.
func NewRegistry(client metadata.Client, fetch DictionaryFetcher, logger *slog.Logger) *Registry {
	r := &Registry{
		client: client,
		fetch:  fetch,
		logger: logging.Default(logger).With("component", "compressor-registry"),
	}
	empty := make(map[string]Compressor)
	r.snapshot.Store(&empty)
	return r
}

// Get returns the compressor for records read from topic. Change-capture
// topics always get the no-op compressor.
func (r *Registry) Get(ctx context.Context, partition int32, topic string) (Compressor, error) {
	if pubsub.IsChangeCaptureTopic(topic) {
		return Noop(), nil
	}

	if c, ok := (*r.snapshot.Load())[topic]; ok {
		return c, nil
	}

	err := r.fetches.Do(topic, func() error {
		// Re-check under the dedup guard: a racing caller may have
		// populated the cache while this one waited.
		if _, ok := (*r.snapshot.Load())[topic]; ok {
			return nil
		}
		c, err := r.build(ctx, partition, topic)
		if err != nil {
			return err
		}
		r.store(topic, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c, ok := (*r.snapshot.Load())[topic]
	if !ok {
		// The entry was evicted between the fetch and this lookup.
		return nil, fmt.Errorf("%w: %s", ErrDictionaryUnavailable, topic)
	}
	return c, nil
}

// Prime ensures the compressor for topic is cached, fetching the
// dictionary now rather than on the first record. Every subscription
// change calls this, seeks and in-poll cutovers alike, so a cutover to a
// dictionary-compressed version topic reads the dictionary inside Poll.
func (r *Registry) Prime(ctx context.Context, partition int32, topic string) error {
	_, err := r.Get(ctx, partition, topic)
	return err
}

func (r *Registry) build(ctx context.Context, partition int32, topic string) (Compressor, error) {
	store, version, err := pubsub.StoreVersionFromTopic(topic)
	if err != nil {
		return nil, err
	}
	info, err := r.client.GetStore(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("compression strategy for %s: %w", topic, err)
	}
	v, ok := info.Version(version)
	if !ok {
		return nil, fmt.Errorf("compression strategy for %s: version %d unknown", topic, version)
	}

	switch v.Compression {
	case metadata.CompressionNone:
		return Noop(), nil
	case metadata.CompressionGzip:
		return Gzip(), nil
	case metadata.CompressionZstdWithDict:
		dict, err := r.fetch(ctx, topic, partition)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDictionaryUnavailable, topic, err)
		}
		if len(dict) == 0 {
			return nil, fmt.Errorf("%w: %s: start-of-push carried no dictionary", ErrDictionaryUnavailable, topic)
		}
		c, err := NewZstdWithDict(dict)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDictionaryUnavailable, topic, err)
		}
		r.logger.Info("dictionary loaded", "topic", topic, "bytes", len(dict))
		return c, nil
	default:
		return nil, fmt.Errorf("compression strategy for %s: unsupported strategy %d", topic, v.Compression)
	}
}

func (r *Registry) store(topic string, c Compressor) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	old := *r.snapshot.Load()
	next := make(map[string]Compressor, len(old)+1)
	maps.Copy(next, old)
	next[topic] = c
	r.snapshot.Store(&next)
}

// Evict drops the cached compressor for topic. Used when a version
// topic is retired after cutover.
func (r *Registry) Evict(topic string) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	old := *r.snapshot.Load()
	if _, ok := old[topic]; !ok {
		return
	}
	next := make(map[string]Compressor, len(old))
	for k, v := range old {
		if k != topic {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
}
