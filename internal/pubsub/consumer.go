package pubsub

import (
	"context"
	"time"
)

// EarliestOffset subscribes from the first available record.
//
// Any other offset passed to Subscribe means "resume after": the first
// record delivered has offset one past the given value. Callers holding
// a checkpoint for the record they want to see again therefore subtract
// one before subscribing.
const EarliestOffset int64 = -2

// Consumer is the broker client the change consumer drives. One
// implementation speaks Kafka (kafka subpackage), one is an in-memory
// log for tests and local development (memory subpackage).
//
// Implementations must tolerate Subscribe on an already-subscribed
// topic-partition by re-positioning the cursor, and Unsubscribe on an
// unknown pair as a no-op.
type Consumer interface {
	// Subscribe starts consumption of tp. fromOffset is EarliestOffset
	// or a "resume after" position, see the constant above.
	Subscribe(ctx context.Context, tp TopicPartition, fromOffset int64) error

	// Unsubscribe stops consumption of tp.
	Unsubscribe(ctx context.Context, tp TopicPartition) error

	// BatchUnsubscribe stops consumption of every pair in tps.
	BatchUnsubscribe(ctx context.Context, tps map[TopicPartition]struct{}) error

	// Pause suspends delivery for tp without dropping the cursor.
	Pause(tp TopicPartition)

	// Resume re-enables delivery for a paused tp.
	Resume(tp TopicPartition)

	// Assignment returns the currently subscribed pairs.
	Assignment() map[TopicPartition]struct{}

	// Poll blocks up to timeout and returns the next batches, grouped
	// by topic-partition, each batch in offset order.
	Poll(ctx context.Context, timeout time.Duration) (map[TopicPartition][]Envelope, error)

	// EndOffset returns the offset of the last produced record in tp,
	// or -1 when the partition is empty.
	EndOffset(ctx context.Context, tp TopicPartition) (int64, error)

	// OffsetForTime returns the offset of the earliest record whose
	// timestamp is at or after ts. ok is false when no such record
	// exists.
	OffsetForTime(ctx context.Context, tp TopicPartition, ts time.Time) (offset int64, ok bool, err error)

	Close() error
}
