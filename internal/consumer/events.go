package consumer

import (
	"time"

	"github.com/jayaprabhakar/venice/internal/coordinate"
)

// ChangeMessage is one decoded change event.
//
// Deletes carry nil Before and After: the key no longer exists.
// Version-topic inserts carry nil Before. Updates from change-capture
// topics may carry both images.
type ChangeMessage[K, V any] struct {
	Key         K
	Before      *V
	After       *V
	Partition   int32
	Offset      int64
	Timestamp   time.Time
	PayloadSize int

	// Coordinate is the resumption point for this event, suitable for
	// SeekToCheckpoint after a restart.
	Coordinate coordinate.Coordinate
}
