package coordinate

import (
	"log/slog"

	"github.com/jayaprabhakar/venice/internal/logging"
)

// Tracker holds, per partition, the replication high-watermark vector
// recorded at the last version swap and the latest consumed position.
// All access is serialized by the consumer's mutex; the tracker does
// no locking of its own.
type Tracker struct {
	watermarks map[int32][]int64
	positions  map[int32]Coordinate
	logger     *slog.Logger
}

// NewTracker returns an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		watermarks: make(map[int32][]int64),
		positions:  make(map[int32]Coordinate),
		logger:     logging.Default(logger).With("component", "coordinate-tracker"),
	}
}

// ShouldFilter reports whether a record carrying vector must be
// suppressed: a high-watermark exists for the partition and the
// record's vector has not advanced past it. This is what keeps a
// partition that cut over to version N+1 from re-emitting records
// already seen on version N.
func (t *Tracker) ShouldFilter(partition int32, vector []int64) bool {
	hw, ok := t.watermarks[partition]
	if !ok {
		return false
	}
	return !Advanced(vector, hw)
}

// UpdateOnVersionSwap replaces the partition's high-watermark with
// vector iff it advances past the current one, and reports whether it
// did. Regressing vectors occur on repushes and must never overwrite.
func (t *Tracker) UpdateOnVersionSwap(partition int32, vector []int64) bool {
	hw, ok := t.watermarks[partition]
	if ok && !Advanced(vector, hw) {
		t.logger.Debug("version swap watermark not advanced, keeping current",
			"partition", partition, "current", hw, "offered", vector)
		return false
	}
	t.watermarks[partition] = append([]int64(nil), vector...)
	return true
}

// Reset forgets the partition's high-watermark and position. Used when
// the caller seeks or unsubscribes the partition.
func (t *Tracker) Reset(partition int32) {
	delete(t.watermarks, partition)
	delete(t.positions, partition)
}

// HighWatermark returns the partition's current vector, if any.
func (t *Tracker) HighWatermark(partition int32) ([]int64, bool) {
	hw, ok := t.watermarks[partition]
	return hw, ok
}

// RecordPosition notes the latest consumed coordinate for a partition.
// The consumer calls this for every processed envelope, control
// messages included, so checkpoints taken between events still resume
// correctly.
func (t *Tracker) RecordPosition(partition int32, c Coordinate) {
	t.positions[partition] = c
}

// Position returns the latest consumed coordinate for a partition.
func (t *Tracker) Position(partition int32) (Coordinate, bool) {
	c, ok := t.positions[partition]
	return c, ok
}
