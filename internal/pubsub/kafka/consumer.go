// Package kafka implements the pubsub.Consumer contract over Kafka
// using franz-go, with direct partition assignment (no consumer
// groups: the change consumer owns its routing).
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/jayaprabhakar/venice/internal/logging"
	"github.com/jayaprabhakar/venice/internal/pubsub"
)

// Consumer is a Kafka-backed pubsub.Consumer.
type Consumer struct {
	client *kgo.Client
	admin  *kadm.Client
	logger *slog.Logger

	mu       sync.Mutex
	assigned map[pubsub.TopicPartition]struct{}
}

// New connects to Kafka and returns an unsubscribed consumer.
func New(cfg Config) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		// Direct consumption: partitions are added and removed at
		// runtime as the change consumer routes them across topics.
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{}),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	if cfg.SASL != nil {
		mech, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	return &Consumer{
		client:   client,
		admin:    kadm.NewClient(client),
		logger:   logging.Default(cfg.Logger).With("component", "pubsub", "type", "kafka"),
		assigned: make(map[pubsub.TopicPartition]struct{}),
	}, nil
}

func (c *Consumer) Subscribe(_ context.Context, tp pubsub.TopicPartition, fromOffset int64) error {
	var offset kgo.Offset
	if fromOffset == pubsub.EarliestOffset {
		offset = kgo.NewOffset().AtStart()
	} else {
		// The contract is "resume after": delivery starts one past the
		// given offset.
		offset = kgo.NewOffset().At(fromOffset + 1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.assigned[tp]; ok {
		// Re-position: franz-go rejects adding an already-consumed
		// partition.
		c.client.RemoveConsumePartitions(map[string][]int32{tp.Topic: {tp.Partition}})
	}
	c.client.AddConsumePartitions(map[string]map[int32]kgo.Offset{
		tp.Topic: {tp.Partition: offset},
	})
	c.assigned[tp] = struct{}{}
	return nil
}

func (c *Consumer) Unsubscribe(_ context.Context, tp pubsub.TopicPartition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.assigned[tp]; !ok {
		return nil
	}
	c.client.RemoveConsumePartitions(map[string][]int32{tp.Topic: {tp.Partition}})
	delete(c.assigned, tp)
	return nil
}

func (c *Consumer) BatchUnsubscribe(_ context.Context, tps map[pubsub.TopicPartition]struct{}) error {
	removals := make(map[string][]int32)
	c.mu.Lock()
	defer c.mu.Unlock()
	for tp := range tps {
		if _, ok := c.assigned[tp]; !ok {
			continue
		}
		removals[tp.Topic] = append(removals[tp.Topic], tp.Partition)
		delete(c.assigned, tp)
	}
	if len(removals) > 0 {
		c.client.RemoveConsumePartitions(removals)
	}
	return nil
}

func (c *Consumer) Pause(tp pubsub.TopicPartition) {
	c.client.PauseFetchPartitions(map[string][]int32{tp.Topic: {tp.Partition}})
}

func (c *Consumer) Resume(tp pubsub.TopicPartition) {
	c.client.ResumeFetchPartitions(map[string][]int32{tp.Topic: {tp.Partition}})
}

func (c *Consumer) Assignment() map[pubsub.TopicPartition]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[pubsub.TopicPartition]struct{}, len(c.assigned))
	for tp := range c.assigned {
		out[tp] = struct{}{}
	}
	return out
}

func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (map[pubsub.TopicPartition][]pubsub.Envelope, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollFetches(pollCtx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		return nil, fmt.Errorf("kafka fetch %s-%d: %w", fe.Topic, fe.Partition, fe.Err)
	}

	out := make(map[pubsub.TopicPartition][]pubsub.Envelope)
	var decodeErr error
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if decodeErr != nil {
			return
		}
		tp := pubsub.TopicPartition{Topic: p.Topic, Partition: p.Partition}
		for _, rec := range p.Records {
			msg, err := pubsub.UnmarshalMessage(rec.Value)
			if err != nil {
				decodeErr = fmt.Errorf("kafka record %s offset %d: %w", tp, rec.Offset, err)
				return
			}
			out[tp] = append(out[tp], pubsub.Envelope{
				Key:         rec.Key,
				Message:     msg,
				Offset:      rec.Offset,
				Timestamp:   rec.Timestamp,
				PayloadSize: len(rec.Value),
			})
		}
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

func (c *Consumer) EndOffset(ctx context.Context, tp pubsub.TopicPartition) (int64, error) {
	offsets, err := c.admin.ListEndOffsets(ctx, tp.Topic)
	if err != nil {
		return 0, fmt.Errorf("kafka end offsets for %s: %w", tp.Topic, err)
	}
	listed, ok := offsets.Lookup(tp.Topic, tp.Partition)
	if !ok {
		return 0, fmt.Errorf("kafka end offsets for %s: partition missing", tp)
	}
	if listed.Err != nil {
		return 0, fmt.Errorf("kafka end offsets for %s: %w", tp, listed.Err)
	}
	// Kafka reports the next-to-be-produced offset; the contract wants
	// the last produced record (-1 when empty).
	return listed.Offset - 1, nil
}

func (c *Consumer) OffsetForTime(ctx context.Context, tp pubsub.TopicPartition, ts time.Time) (int64, bool, error) {
	offsets, err := c.admin.ListOffsetsAfterMilli(ctx, ts.UnixMilli(), tp.Topic)
	if err != nil {
		return 0, false, fmt.Errorf("kafka offsets for time on %s: %w", tp.Topic, err)
	}
	listed, ok := offsets.Lookup(tp.Topic, tp.Partition)
	if !ok || listed.Offset < 0 {
		return 0, false, nil
	}
	// Kafka answers with the end offset when no record is at or after
	// ts; treat that as absent.
	end, err := c.EndOffset(ctx, tp)
	if err != nil {
		return 0, false, err
	}
	if listed.Offset > end {
		return 0, false, nil
	}
	return listed.Offset, true, nil
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}
