package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jayaprabhakar/venice/internal/compress"
	"github.com/jayaprabhakar/venice/internal/coordinate"
	"github.com/jayaprabhakar/venice/internal/metadata"
	"github.com/jayaprabhakar/venice/internal/pubsub"
)

// topicManager owns the partition→topic routing and every broker
// subscription mutation. All methods run under the consumer's mutex;
// the manager itself is not safe for unsynchronized use.
//
// Per partition the subscription lifecycle is
// unsubscribed → subscribed(topic) ⇄ paused(topic), and a version swap
// replaces the topic in one step from the caller's viewpoint.
type topicManager struct {
	broker      pubsub.Consumer
	meta        metadata.Client
	compressors *compress.Registry
	store       string
	logger      *slog.Logger

	// topics is the active topic per partition. It mirrors the broker
	// assignment at all times.
	topics map[int32]string
}

func newTopicManager(broker pubsub.Consumer, meta metadata.Client, compressors *compress.Registry, store string, logger *slog.Logger) *topicManager {
	return &topicManager{
		broker:      broker,
		meta:        meta,
		compressors: compressors,
		store:       store,
		logger:      logger.With("component", "topic-manager"),
		topics:      make(map[int32]string),
	}
}

// currentVersionTopic resolves the store's serving version topic.
func (m *topicManager) currentVersionTopic(ctx context.Context) (string, error) {
	info, err := m.meta.GetStore(ctx, m.store)
	if err != nil {
		return "", fmt.Errorf("resolve serving version of %s: %w", m.store, err)
	}
	return pubsub.VersionTopic(m.store, info.CurrentVersion), nil
}

// currentChangeCaptureTopic resolves the serving version's
// change-capture topic.
func (m *topicManager) currentChangeCaptureTopic(ctx context.Context) (string, error) {
	info, err := m.meta.GetStore(ctx, m.store)
	if err != nil {
		return "", fmt.Errorf("resolve serving version of %s: %w", m.store, err)
	}
	return pubsub.ChangeCaptureTopic(m.store, info.CurrentVersion), nil
}

// prime warms the compressor cache for a version topic. Change-capture
// topics need no compressor.
func (m *topicManager) prime(ctx context.Context, partition int32, topic string) error {
	if pubsub.IsChangeCaptureTopic(topic) {
		return nil
	}
	return m.compressors.Prime(ctx, partition, topic)
}

// subscribeAt replaces partition's subscription with (topic, offset),
// unsubscribing any prior topic first.
func (m *topicManager) subscribeAt(ctx context.Context, partition int32, topic string, fromOffset int64) error {
	if prior, ok := m.topics[partition]; ok {
		if err := m.broker.Unsubscribe(ctx, pubsub.TopicPartition{Topic: prior, Partition: partition}); err != nil {
			return fmt.Errorf("unsubscribe %s-%d: %w", prior, partition, err)
		}
		delete(m.topics, partition)
	}
	if err := m.prime(ctx, partition, topic); err != nil {
		return err
	}
	if err := m.broker.Subscribe(ctx, pubsub.TopicPartition{Topic: topic, Partition: partition}, fromOffset); err != nil {
		return fmt.Errorf("subscribe %s-%d: %w", topic, partition, err)
	}
	m.topics[partition] = topic
	return nil
}

// subscribe routes partitions to topic at the earliest offset. An
// empty topic resolves to the store's current serving version topic.
func (m *topicManager) subscribe(ctx context.Context, partitions []int32, topic string) error {
	if topic == "" {
		resolved, err := m.currentVersionTopic(ctx)
		if err != nil {
			return err
		}
		topic = resolved
	}
	for _, p := range partitions {
		if err := m.subscribeAt(ctx, p, topic, pubsub.EarliestOffset); err != nil {
			return err
		}
	}
	m.logger.Info("subscribed", "topic", topic, "partitions", partitions)
	return nil
}

func (m *topicManager) unsubscribe(ctx context.Context, partitions []int32) error {
	tps := make(map[pubsub.TopicPartition]struct{}, len(partitions))
	for _, p := range partitions {
		topic, ok := m.topics[p]
		if !ok {
			continue
		}
		tps[pubsub.TopicPartition{Topic: topic, Partition: p}] = struct{}{}
		delete(m.topics, p)
	}
	if len(tps) == 0 {
		return nil
	}
	if err := m.broker.BatchUnsubscribe(ctx, tps); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

func (m *topicManager) unsubscribeAll(ctx context.Context) error {
	return m.unsubscribe(ctx, m.assigned())
}

// assigned returns the partitions with an active subscription.
func (m *topicManager) assigned() []int32 {
	out := make([]int32, 0, len(m.topics))
	for p := range m.topics {
		out = append(out, p)
	}
	return out
}

func (m *topicManager) topicOf(partition int32) (string, bool) {
	t, ok := m.topics[partition]
	return t, ok
}

// seekToBeginningOfPush subscribes partitions at the start of the
// current serving version topic.
func (m *topicManager) seekToBeginningOfPush(ctx context.Context, partitions []int32) error {
	return m.subscribe(ctx, partitions, "")
}

// seekToEndOfPush subscribes partitions at the start of the current
// version's change-capture topic.
func (m *topicManager) seekToEndOfPush(ctx context.Context, partitions []int32) error {
	topic, err := m.currentChangeCaptureTopic(ctx)
	if err != nil {
		return err
	}
	for _, p := range partitions {
		if err := m.subscribeAt(ctx, p, topic, pubsub.EarliestOffset); err != nil {
			return err
		}
	}
	return nil
}

// seekToTail subscribes partitions past the last record of the current
// change-capture topic, so only new mutations are delivered.
func (m *topicManager) seekToTail(ctx context.Context, partitions []int32) error {
	topic, err := m.currentChangeCaptureTopic(ctx)
	if err != nil {
		return err
	}
	for _, p := range partitions {
		tp := pubsub.TopicPartition{Topic: topic, Partition: p}
		end, err := m.broker.EndOffset(ctx, tp)
		if err != nil {
			return fmt.Errorf("end offset of %s: %w", tp, err)
		}
		if err := m.subscribeAt(ctx, p, topic, end); err != nil {
			return err
		}
	}
	return nil
}

// seekToTimestamps positions each partition at the first change-capture
// record at or after its timestamp. Partitions with no such record go
// to the tail.
func (m *topicManager) seekToTimestamps(ctx context.Context, timestamps map[int32]time.Time) error {
	topic, err := m.currentChangeCaptureTopic(ctx)
	if err != nil {
		return err
	}
	for p, ts := range timestamps {
		tp := pubsub.TopicPartition{Topic: topic, Partition: p}
		from, ok, err := m.broker.OffsetForTime(ctx, tp, ts)
		if err != nil {
			return fmt.Errorf("offset for time on %s: %w", tp, err)
		}
		if ok {
			// Deliver the matched record itself: resume after its
			// predecessor.
			from--
		} else {
			from, err = m.broker.EndOffset(ctx, tp)
			if err != nil {
				return fmt.Errorf("end offset of %s: %w", tp, err)
			}
		}
		if err := m.subscribeAt(ctx, p, topic, from); err != nil {
			return err
		}
	}
	return nil
}

// seekToCheckpoints resumes each coordinate's partition on its
// coordinate topic so the record at the checkpoint offset is delivered
// again. The broker treats the subscription offset as "resume after",
// hence the decrement; the earliest sentinel passes through untouched.
func (m *topicManager) seekToCheckpoints(ctx context.Context, coords []coordinate.Coordinate) error {
	for _, c := range coords {
		from := c.Offset
		if from != pubsub.EarliestOffset {
			from--
		}
		if err := m.subscribeAt(ctx, c.Partition, c.Topic, from); err != nil {
			return err
		}
	}
	return nil
}

// switchTopic cuts partition over to target at the earliest offset.
// Reports whether a switch happened; already being on target is a
// no-op.
func (m *topicManager) switchTopic(ctx context.Context, partition int32, target string) (bool, error) {
	current, hadPrior := m.topics[partition]
	if hadPrior && current == target {
		return false, nil
	}
	if err := m.subscribeAt(ctx, partition, target, pubsub.EarliestOffset); err != nil {
		return false, err
	}
	if hadPrior {
		m.evictIfUnused(current)
	}
	m.logger.Info("partition cut over", "partition", partition, "topic", target)
	return true, nil
}

// evictIfUnused drops a retired version topic's compressor once no
// partition reads it anymore. Change-capture topics hold no compressor.
func (m *topicManager) evictIfUnused(topic string) {
	if pubsub.IsChangeCaptureTopic(topic) {
		return
	}
	for _, t := range m.topics {
		if t == topic {
			return
		}
	}
	m.compressors.Evict(topic)
}

func (m *topicManager) pause(partitions []int32) {
	for _, p := range partitions {
		if topic, ok := m.topics[p]; ok {
			m.broker.Pause(pubsub.TopicPartition{Topic: topic, Partition: p})
		}
	}
}

func (m *topicManager) resume(partitions []int32) {
	for _, p := range partitions {
		if topic, ok := m.topics[p]; ok {
			m.broker.Resume(pubsub.TopicPartition{Topic: topic, Partition: p})
		}
	}
}
