// Package memory provides an in-memory pub/sub implementation:
// appendable per-partition logs and a Consumer over them. It backs the
// test suites and doubles as the short-lived dictionary reader in them.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jayaprabhakar/venice/internal/pubsub"
)

// Log is a set of append-only topic-partition logs shared by any
// number of consumers. Safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	records map[pubsub.TopicPartition][]pubsub.Envelope
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{records: make(map[pubsub.TopicPartition][]pubsub.Envelope)}
}

// Append adds a message to the topic-partition and returns its offset.
// The payload size is derived from the wire encoding.
func (l *Log) Append(topic string, partition int32, key []byte, msg pubsub.Message, ts time.Time) int64 {
	size := 0
	if b, err := pubsub.MarshalMessage(msg); err == nil {
		size = len(b)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	tp := pubsub.TopicPartition{Topic: topic, Partition: partition}
	offset := int64(len(l.records[tp]))
	l.records[tp] = append(l.records[tp], pubsub.Envelope{
		Key:         key,
		Message:     msg,
		Offset:      offset,
		Timestamp:   ts,
		PayloadSize: size,
	})
	return offset
}

func (l *Log) read(tp pubsub.TopicPartition, from int64, limit int) []pubsub.Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs := l.records[tp]
	if from >= int64(len(recs)) {
		return nil
	}
	out := recs[from:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	// Copy the slice header range so appends never race with readers.
	cp := make([]pubsub.Envelope, len(out))
	copy(cp, out)
	return cp
}

func (l *Log) endOffset(tp pubsub.TopicPartition) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.records[tp])) - 1
}

func (l *Log) offsetForTime(tp pubsub.TopicPartition, ts time.Time) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, env := range l.records[tp] {
		if !env.Timestamp.Before(ts) {
			return env.Offset, true
		}
	}
	return 0, false
}

// Consumer is an in-memory pubsub.Consumer over a shared Log.
type Consumer struct {
	log *Log

	mu      sync.Mutex
	cursors map[pubsub.TopicPartition]int64 // next offset to deliver
	paused  map[pubsub.TopicPartition]bool
	closed  bool

	// batchLimit caps envelopes per partition per poll. Zero means
	// unlimited; tests lower it to exercise batch boundaries.
	batchLimit int
}

// NewConsumer returns an unsubscribed consumer over log.
func NewConsumer(log *Log) *Consumer {
	return &Consumer{
		log:     log,
		cursors: make(map[pubsub.TopicPartition]int64),
		paused:  make(map[pubsub.TopicPartition]bool),
	}
}

// SetBatchLimit caps envelopes returned per partition per poll.
func (c *Consumer) SetBatchLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchLimit = n
}

func (c *Consumer) Subscribe(_ context.Context, tp pubsub.TopicPartition, fromOffset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fromOffset == pubsub.EarliestOffset {
		c.cursors[tp] = 0
	} else {
		c.cursors[tp] = fromOffset + 1
	}
	delete(c.paused, tp)
	return nil
}

func (c *Consumer) Unsubscribe(_ context.Context, tp pubsub.TopicPartition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, tp)
	delete(c.paused, tp)
	return nil
}

func (c *Consumer) BatchUnsubscribe(ctx context.Context, tps map[pubsub.TopicPartition]struct{}) error {
	for tp := range tps {
		if err := c.Unsubscribe(ctx, tp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) Pause(tp pubsub.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cursors[tp]; ok {
		c.paused[tp] = true
	}
}

func (c *Consumer) Resume(tp pubsub.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paused, tp)
}

func (c *Consumer) Assignment() map[pubsub.TopicPartition]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[pubsub.TopicPartition]struct{}, len(c.cursors))
	for tp := range c.cursors {
		out[tp] = struct{}{}
	}
	return out
}

// Poll returns available batches immediately, or waits up to timeout
// for records to appear.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (map[pubsub.TopicPartition][]pubsub.Envelope, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, errors.New("memory: consumer closed")
		}
		batches := c.drain()
		if len(batches) > 0 {
			return batches, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Consumer) drain() map[pubsub.TopicPartition][]pubsub.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[pubsub.TopicPartition][]pubsub.Envelope)
	for tp, cursor := range c.cursors {
		if c.paused[tp] {
			continue
		}
		envs := c.log.read(tp, cursor, c.batchLimit)
		if len(envs) == 0 {
			continue
		}
		out[tp] = envs
		c.cursors[tp] = envs[len(envs)-1].Offset + 1
	}
	return out
}

func (c *Consumer) EndOffset(_ context.Context, tp pubsub.TopicPartition) (int64, error) {
	return c.log.endOffset(tp), nil
}

func (c *Consumer) OffsetForTime(_ context.Context, tp pubsub.TopicPartition, ts time.Time) (int64, bool, error) {
	off, ok := c.log.offsetForTime(tp, ts)
	return off, ok, nil
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cursors = make(map[pubsub.TopicPartition]int64)
	c.paused = make(map[pubsub.TopicPartition]bool)
	return nil
}
