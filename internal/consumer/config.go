package consumer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jayaprabhakar/venice/internal/metadata"
	"github.com/jayaprabhakar/venice/internal/pubsub"
)

// BrokerFactory opens a new, independent broker client. The consumer
// uses it for short-lived reads (compression dictionary scans) so the
// main poll assignment is never perturbed.
type BrokerFactory func() (pubsub.Consumer, error)

// Config holds change consumer construction parameters.
type Config struct {
	// Store is the logical dataset to consume.
	Store string

	// Broker is the consumer's pub/sub client. The consumer owns it
	// and closes it on Close.
	Broker pubsub.Consumer

	// BrokerFactory opens short-lived clients for dictionary scans.
	// Optional for stores that never use dictionary compression.
	BrokerFactory BrokerFactory

	// Metadata is the control-plane client.
	Metadata metadata.Client

	// ConsumerID identifies this consumer in logs. Defaults to a
	// random UUID.
	ConsumerID string

	// Logger is optional. If nil, logging is disabled.
	Logger *slog.Logger
}

func (cfg *Config) validate() error {
	if cfg.Store == "" {
		return errors.New("consumer: Store is required")
	}
	if cfg.Broker == nil {
		return errors.New("consumer: Broker is required")
	}
	if cfg.Metadata == nil {
		return errors.New("consumer: Metadata is required")
	}
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = uuid.NewString()
	}
	return nil
}

// Errors callers branch on.
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("consumer: closed")

	// ErrPartitionNotSubscribed is returned by GetLatestCoordinate for
	// a partition outside the current assignment.
	ErrPartitionNotSubscribed = errors.New("consumer: partition not subscribed")
)

func partitionRangeError(p int32, count int) error {
	return fmt.Errorf("consumer: partition %d outside store range [0, %d)", p, count)
}
