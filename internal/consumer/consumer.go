// Package consumer implements the change-data-capture consumer: the
// poll loop decoding (key, before, after) events and the version-switch
// state machine that cuts partitions over to new store versions without
// emitting stale or duplicate records.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jayaprabhakar/venice/internal/chunking"
	"github.com/jayaprabhakar/venice/internal/compress"
	"github.com/jayaprabhakar/venice/internal/coordinate"
	"github.com/jayaprabhakar/venice/internal/logging"
	"github.com/jayaprabhakar/venice/internal/pubsub"
	"github.com/jayaprabhakar/venice/internal/schema"
)

// Consumer subscribes to a store's logical change stream and yields
// decoded ChangeMessages across version boundaries and physical
// layouts.
//
// K and V fix the decoded key and value types at construction: concrete
// struct types give record-to-struct decoding, `any` gives generic
// schema-driven values.
//
// Concurrency: one mutex serializes every broker operation. Poll is
// expected to be driven by one goroutine; concurrent callers are safe
// but event ordering across interleaved polls is undefined.
type Consumer[K, V any] struct {
	mu sync.Mutex

	store          string
	partitionCount int
	logger         *slog.Logger

	broker      pubsub.Consumer
	schemas     *schema.Registry
	compressors *compress.Registry
	manager     *topicManager
	tracker     *coordinate.Tracker

	keyDeser   schema.Deserializer[K]
	valueDeser *schema.DeserializerProvider[V]
	ccDeser    schema.Deserializer[schema.RecordChangeEvent]

	// Separate assemblers: version topics assemble into V, change
	// capture topics assemble into the protocol record.
	dataAssembler *chunking.Assembler[V]
	ccAssembler   *chunking.Assembler[schema.RecordChangeEvent]

	closed bool
}

// New builds a change consumer for cfg.Store. It resolves the store's
// partition count and key schema from the control plane up front; the
// partition count is fixed for the consumer's lifetime.
func New[K, V any](ctx context.Context, cfg Config) (*Consumer[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := logging.Default(cfg.Logger).With(
		"component", "change-consumer",
		"store", cfg.Store,
		"consumer_id", cfg.ConsumerID,
	)

	info, err := cfg.Metadata.GetStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("consumer: resolve store %s: %w", cfg.Store, err)
	}
	if info.PartitionCount <= 0 {
		return nil, fmt.Errorf("consumer: store %s reports partition count %d", cfg.Store, info.PartitionCount)
	}

	schemas := schema.NewRegistry(cfg.Metadata, cfg.Store, cfg.Logger)
	keySchema, err := schemas.KeySchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}

	compressors := compress.NewRegistry(
		cfg.Metadata,
		newDictionaryFetcher(cfg.BrokerFactory, logger),
		cfg.Logger,
	)

	c := &Consumer[K, V]{
		store:          cfg.Store,
		partitionCount: info.PartitionCount,
		logger:         logger,
		broker:         cfg.Broker,
		schemas:        schemas,
		compressors:    compressors,
		tracker:        coordinate.NewTracker(cfg.Logger),
		keyDeser:       schema.NewDeserializer[K](keySchema),
		valueDeser:     schema.NewDeserializerProvider[V](schemas),
		ccDeser:        schema.NewDeserializer[schema.RecordChangeEvent](schema.RecordChangeEventSchema),
		dataAssembler:  chunking.New[V](cfg.Logger),
		ccAssembler:    chunking.New[schema.RecordChangeEvent](cfg.Logger),
	}
	c.manager = newTopicManager(cfg.Broker, cfg.Metadata, compressors, cfg.Store, logger)

	logger.Info("consumer created", "partitions", info.PartitionCount, "serving_version", info.CurrentVersion)
	return c, nil
}

// PartitionCount returns the store's partition count.
func (c *Consumer[K, V]) PartitionCount() int {
	return c.partitionCount
}

// Poll reads the next batches from the broker and returns the decoded,
// filter-surviving change events, in offset order per partition. A
// control message that cuts a partition over ends that partition's
// batch; the remainder belonged to the retired topic.
func (c *Consumer[K, V]) Poll(ctx context.Context, timeout time.Duration) ([]ChangeMessage[K, V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	batches, err := c.broker.Poll(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("consumer: poll: %w", err)
	}

	var out []ChangeMessage[K, V]
	for tp, envs := range batches {
		for _, env := range envs {
			c.tracker.RecordPosition(tp.Partition, coordinate.Coordinate{
				Topic:     tp.Topic,
				Partition: tp.Partition,
				Offset:    env.Offset,
			})

			if env.Message.Type == pubsub.MessageTypeControl {
				switched, err := c.handleControl(ctx, tp, env)
				if err != nil {
					return nil, err
				}
				if switched {
					// The rest of this batch came from the topic the
					// partition just left.
					break
				}
				continue
			}

			msg, keep, err := c.decodeData(ctx, tp, env)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// handleControl dispatches one control message and reports whether it
// cut the partition over to another topic. Unknown control types are
// skipped; control handling itself never fails the poll, only broker
// subscription errors do.
func (c *Consumer[K, V]) handleControl(ctx context.Context, tp pubsub.TopicPartition, env pubsub.Envelope) (bool, error) {
	ctl := env.Message.Control
	if ctl == nil {
		return false, nil
	}

	switch ctl.Type {
	case pubsub.ControlEndOfPush:
		if pubsub.IsChangeCaptureTopic(tp.Topic) {
			return false, nil
		}
		target := tp.Topic + pubsub.ChangeCaptureSuffix
		return c.cutOver(ctx, tp.Partition, target)

	case pubsub.ControlVersionSwap:
		target := ctl.NewServingVersionTopic
		if pubsub.IsChangeCaptureTopic(tp.Topic) {
			target += pubsub.ChangeCaptureSuffix
		}
		// Record the swap watermark first: whether or not it advances,
		// the partition still moves.
		c.tracker.UpdateOnVersionSwap(tp.Partition, ctl.LocalHighWatermarks)
		return c.cutOver(ctx, tp.Partition, target)

	case pubsub.ControlStartOfPush, pubsub.ControlStartOfSegment, pubsub.ControlEndOfSegment, pubsub.ControlTopicSwitch:
		// Informational. The start-of-push dictionary is read on
		// demand by the compressor registry, not from the poll path.
		return false, nil

	default:
		c.logger.Debug("skipping unknown control type", "type", int32(ctl.Type), "topic", tp.Topic, "partition", tp.Partition)
		return false, nil
	}
}

// cutOver switches a partition to target and drops its in-flight
// chunk buffers. No-op when already on target.
func (c *Consumer[K, V]) cutOver(ctx context.Context, partition int32, target string) (bool, error) {
	switched, err := c.manager.switchTopic(ctx, partition, target)
	if err != nil {
		return false, fmt.Errorf("consumer: cut over partition %d to %s: %w", partition, target, err)
	}
	if switched {
		c.dataAssembler.ClearPartition(partition)
		c.ccAssembler.ClearPartition(partition)
	}
	return switched, nil
}

// decodeData turns a PUT or DELETE envelope into a ChangeMessage.
// keep is false for suppressed records: chunk fragments still under
// assembly and events whose checkpoint vector has not advanced past
// the partition's high-watermark.
func (c *Consumer[K, V]) decodeData(ctx context.Context, tp pubsub.TopicPartition, env pubsub.Envelope) (ChangeMessage[K, V], bool, error) {
	var zero ChangeMessage[K, V]

	var (
		before, after *V
		vector        []int64
		err           error
	)

	switch env.Message.Type {
	case pubsub.MessageTypeDelete:
		del := env.Message.Delete
		vector, err = c.schemas.CheckpointVector(ctx, del.ReplicationMetadataVersionID, del.ReplicationMetadataPayload)
		if err != nil {
			return zero, false, fmt.Errorf("consumer: %s offset %d: %w", tp, env.Offset, err)
		}

	case pubsub.MessageTypePut:
		var pending bool
		if pubsub.IsChangeCaptureTopic(tp.Topic) {
			before, after, vector, pending, err = c.decodeChangeCapturePut(ctx, tp, env)
		} else {
			after, vector, pending, err = c.decodeVersionTopicPut(ctx, tp, env)
		}
		if err != nil {
			return zero, false, err
		}
		if pending {
			// Fragment buffered, nothing to emit yet.
			return zero, false, nil
		}

	default:
		return zero, false, nil
	}

	if c.tracker.ShouldFilter(tp.Partition, vector) {
		return zero, false, nil
	}

	key, err := c.keyDeser.Deserialize(env.Key)
	if err != nil {
		return zero, false, fmt.Errorf("consumer: decode key at %s offset %d: %w", tp, env.Offset, err)
	}

	return ChangeMessage[K, V]{
		Key:         key,
		Before:      before,
		After:       after,
		Partition:   tp.Partition,
		Offset:      env.Offset,
		Timestamp:   env.Timestamp,
		PayloadSize: env.PayloadSize,
		Coordinate: coordinate.Coordinate{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    env.Offset,
		},
	}, true, nil
}

// decodeVersionTopicPut handles a PUT read from a version topic: the
// value is compressed with the version's strategy and may be chunked.
// The reader schema is the store's latest value schema.
func (c *Consumer[K, V]) decodeVersionTopicPut(ctx context.Context, tp pubsub.TopicPartition, env pubsub.Envelope) (after *V, vector []int64, pending bool, err error) {
	put := env.Message.Put

	compressor, err := c.compressors.Get(ctx, tp.Partition, tp.Topic)
	if err != nil {
		return nil, nil, false, fmt.Errorf("consumer: %s: %w", tp, err)
	}

	after, err = c.dataAssembler.BufferAndAssemble(
		tp.Partition, env.Key, put.SchemaID, put.Value, compressor,
		func(writerID int32, data []byte) (V, error) {
			return c.deserializeValue(ctx, writerID, data)
		},
	)
	if err != nil {
		return nil, nil, false, fmt.Errorf("consumer: %s offset %d: %w", tp, env.Offset, err)
	}
	if after == nil {
		return nil, nil, true, nil
	}

	vector, err = c.schemas.CheckpointVector(ctx, put.ReplicationMetadataVersionID, put.ReplicationMetadataPayload)
	if err != nil {
		return nil, nil, false, fmt.Errorf("consumer: %s offset %d: %w", tp, env.Offset, err)
	}
	return after, vector, false, nil
}

// decodeChangeCapturePut handles a PUT read from a change-capture
// topic: the value is an uncompressed RecordChangeEvent (possibly
// chunked) embedding the before and after images.
func (c *Consumer[K, V]) decodeChangeCapturePut(ctx context.Context, tp pubsub.TopicPartition, env pubsub.Envelope) (before, after *V, vector []int64, pending bool, err error) {
	put := env.Message.Put

	event, err := c.ccAssembler.BufferAndAssemble(
		tp.Partition, env.Key, put.SchemaID, put.Value, compress.Noop(),
		func(_ int32, data []byte) (schema.RecordChangeEvent, error) {
			return c.ccDeser.Deserialize(data)
		},
	)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("consumer: %s offset %d: %w", tp, env.Offset, err)
	}
	if event == nil {
		return nil, nil, nil, true, nil
	}

	before, err = c.decodeValueBytes(ctx, event.PreviousValue)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("consumer: %s offset %d: decode before image: %w", tp, env.Offset, err)
	}
	after, err = c.decodeValueBytes(ctx, event.CurrentValue)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("consumer: %s offset %d: decode after image: %w", tp, env.Offset, err)
	}
	return before, after, event.ReplicationCheckpointVector, false, nil
}

func (c *Consumer[K, V]) deserializeValue(ctx context.Context, writerID int32, data []byte) (V, error) {
	var zero V
	readerID, err := c.schemas.LatestValueSchemaID(ctx)
	if err != nil {
		return zero, err
	}
	d, err := c.valueDeser.Deserializer(ctx, writerID, readerID)
	if err != nil {
		return zero, err
	}
	return d.Deserialize(data)
}

func (c *Consumer[K, V]) decodeValueBytes(ctx context.Context, vb *schema.ValueBytes) (*V, error) {
	if vb == nil {
		return nil, nil
	}
	v, err := c.deserializeValue(ctx, vb.SchemaID, vb.Value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetLatestCoordinate returns the latest consumed coordinate for a
// subscribed partition. Before the first envelope is consumed, the
// coordinate carries the earliest-offset sentinel.
func (c *Consumer[K, V]) GetLatestCoordinate(partition int32) (coordinate.Coordinate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return coordinate.Coordinate{}, ErrClosed
	}
	topic, ok := c.manager.topicOf(partition)
	if !ok {
		return coordinate.Coordinate{}, fmt.Errorf("%w: %d", ErrPartitionNotSubscribed, partition)
	}
	if pos, ok := c.tracker.Position(partition); ok {
		return pos, nil
	}
	return coordinate.Coordinate{Topic: topic, Partition: partition, Offset: pubsub.EarliestOffset}, nil
}

// Close releases the broker client. Further operations return
// ErrClosed.
func (c *Consumer[K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.logger.Info("consumer closing")
	if err := c.broker.Close(); err != nil {
		return fmt.Errorf("consumer: close broker: %w", err)
	}
	return nil
}
