package consumer

import (
	"context"
	"time"

	"github.com/jayaprabhakar/venice/internal/coordinate"
)

// The subscription and seek surface is asynchronous: each method hands
// the work to a goroutine that serializes on the consumer mutex and
// reports completion on the returned channel. The channel receives
// exactly one value and is never closed.

func (c *Consumer[K, V]) async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()
	return ch
}

// locked runs fn under the consumer mutex, rejecting closed consumers.
func (c *Consumer[K, V]) locked(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return fn()
}

func (c *Consumer[K, V]) checkPartitions(partitions []int32) error {
	for _, p := range partitions {
		if p < 0 || int(p) >= c.partitionCount {
			return partitionRangeError(p, c.partitionCount)
		}
	}
	return nil
}

// assignedOrGiven resolves an empty partition list to the current
// assignment. Must run under the mutex.
func (c *Consumer[K, V]) assignedOrGiven(partitions []int32) []int32 {
	if len(partitions) > 0 {
		return partitions
	}
	return c.manager.assigned()
}

// resetPartitions drops seek-sensitive state: high-watermarks,
// positions, and in-flight chunk buffers.
func (c *Consumer[K, V]) resetPartitions(partitions []int32) {
	for _, p := range partitions {
		c.tracker.Reset(p)
		c.dataAssembler.ClearPartition(p)
		c.ccAssembler.ClearPartition(p)
	}
}

// Subscribe starts consuming the given partitions from the current
// serving version topic at the earliest offset.
func (c *Consumer[K, V]) Subscribe(ctx context.Context, partitions []int32) <-chan error {
	return c.async(func() error {
		if err := c.checkPartitions(partitions); err != nil {
			return err
		}
		return c.locked(func() error {
			return c.manager.subscribe(ctx, partitions, "")
		})
	})
}

// SubscribeAll subscribes every partition of the store.
func (c *Consumer[K, V]) SubscribeAll(ctx context.Context) <-chan error {
	partitions := make([]int32, c.partitionCount)
	for i := range partitions {
		partitions[i] = int32(i)
	}
	return c.Subscribe(ctx, partitions)
}

// Unsubscribe stops consuming the given partitions.
func (c *Consumer[K, V]) Unsubscribe(ctx context.Context, partitions []int32) error {
	return c.locked(func() error {
		c.resetPartitions(partitions)
		return c.manager.unsubscribe(ctx, partitions)
	})
}

// UnsubscribeAll stops consuming every subscribed partition.
func (c *Consumer[K, V]) UnsubscribeAll(ctx context.Context) error {
	return c.locked(func() error {
		c.resetPartitions(c.manager.assigned())
		return c.manager.unsubscribeAll(ctx)
	})
}

// SeekToBeginningOfPush repositions partitions (all subscribed when
// empty) at the start of the current serving version topic.
func (c *Consumer[K, V]) SeekToBeginningOfPush(ctx context.Context, partitions ...int32) <-chan error {
	return c.async(func() error {
		if err := c.checkPartitions(partitions); err != nil {
			return err
		}
		return c.locked(func() error {
			ps := c.assignedOrGiven(partitions)
			c.resetPartitions(ps)
			return c.manager.seekToBeginningOfPush(ctx, ps)
		})
	})
}

// SeekToEndOfPush repositions partitions at the start of the current
// version's change-capture topic.
func (c *Consumer[K, V]) SeekToEndOfPush(ctx context.Context, partitions ...int32) <-chan error {
	return c.async(func() error {
		if err := c.checkPartitions(partitions); err != nil {
			return err
		}
		return c.locked(func() error {
			ps := c.assignedOrGiven(partitions)
			c.resetPartitions(ps)
			return c.manager.seekToEndOfPush(ctx, ps)
		})
	})
}

// SeekToTail repositions partitions past the last record of the
// current change-capture topic.
func (c *Consumer[K, V]) SeekToTail(ctx context.Context, partitions ...int32) <-chan error {
	return c.async(func() error {
		if err := c.checkPartitions(partitions); err != nil {
			return err
		}
		return c.locked(func() error {
			ps := c.assignedOrGiven(partitions)
			c.resetPartitions(ps)
			return c.manager.seekToTail(ctx, ps)
		})
	})
}

// SeekToTimestamp repositions every subscribed partition at the first
// change-capture record at or after ts.
func (c *Consumer[K, V]) SeekToTimestamp(ctx context.Context, ts time.Time) <-chan error {
	return c.async(func() error {
		return c.locked(func() error {
			timestamps := make(map[int32]time.Time)
			for _, p := range c.manager.assigned() {
				timestamps[p] = ts
			}
			return c.seekToTimestampsLocked(ctx, timestamps)
		})
	})
}

// SeekToTimestamps repositions each partition at the first
// change-capture record at or after its timestamp.
func (c *Consumer[K, V]) SeekToTimestamps(ctx context.Context, timestamps map[int32]time.Time) <-chan error {
	return c.async(func() error {
		partitions := make([]int32, 0, len(timestamps))
		for p := range timestamps {
			partitions = append(partitions, p)
		}
		if err := c.checkPartitions(partitions); err != nil {
			return err
		}
		return c.locked(func() error {
			return c.seekToTimestampsLocked(ctx, timestamps)
		})
	})
}

func (c *Consumer[K, V]) seekToTimestampsLocked(ctx context.Context, timestamps map[int32]time.Time) error {
	partitions := make([]int32, 0, len(timestamps))
	for p := range timestamps {
		partitions = append(partitions, p)
	}
	c.resetPartitions(partitions)
	return c.manager.seekToTimestamps(ctx, timestamps)
}

// SeekToCheckpoint resumes each coordinate's partition so the record
// at the checkpoint offset is the first delivered again.
func (c *Consumer[K, V]) SeekToCheckpoint(ctx context.Context, coords ...coordinate.Coordinate) <-chan error {
	return c.async(func() error {
		partitions := make([]int32, 0, len(coords))
		for _, co := range coords {
			partitions = append(partitions, co.Partition)
		}
		if err := c.checkPartitions(partitions); err != nil {
			return err
		}
		return c.locked(func() error {
			c.resetPartitions(partitions)
			return c.manager.seekToCheckpoints(ctx, coords)
		})
	})
}

// Pause suspends delivery for the given partitions (all subscribed
// when empty) without dropping their positions.
func (c *Consumer[K, V]) Pause(partitions ...int32) error {
	return c.locked(func() error {
		c.manager.pause(c.assignedOrGiven(partitions))
		return nil
	})
}

// Resume re-enables delivery for paused partitions.
func (c *Consumer[K, V]) Resume(partitions ...int32) error {
	return c.locked(func() error {
		c.manager.resume(c.assignedOrGiven(partitions))
		return nil
	})
}
