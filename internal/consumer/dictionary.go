package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jayaprabhakar/venice/internal/compress"
	"github.com/jayaprabhakar/venice/internal/pubsub"
)

// dictionaryScanPolls bounds the scan for a START_OF_PUSH marker. The
// marker is the first message of a version topic, so anything beyond a
// few polls means the topic is broken.
const (
	dictionaryScanPolls   = 5
	dictionaryPollTimeout = 2 * time.Second
)

// newDictionaryFetcher builds the compressor registry's dictionary
// source: a short-lived reader that scans the START_OF_PUSH control
// message at the beginning of a version topic. A fresh client per scan
// keeps the main poll assignment untouched.
func newDictionaryFetcher(factory BrokerFactory, logger *slog.Logger) compress.DictionaryFetcher {
	logger = logger.With("component", "dictionary-fetcher")
	return func(ctx context.Context, versionTopic string, partition int32) ([]byte, error) {
		if factory == nil {
			return nil, errors.New("no broker factory configured for dictionary reads")
		}
		reader, err := factory()
		if err != nil {
			return nil, fmt.Errorf("open dictionary reader: %w", err)
		}
		defer reader.Close()

		tp := pubsub.TopicPartition{Topic: versionTopic, Partition: partition}
		if err := reader.Subscribe(ctx, tp, pubsub.EarliestOffset); err != nil {
			return nil, fmt.Errorf("subscribe dictionary reader to %s: %w", tp, err)
		}

		for range dictionaryScanPolls {
			batches, err := reader.Poll(ctx, dictionaryPollTimeout)
			if err != nil {
				return nil, fmt.Errorf("scan %s for start-of-push: %w", tp, err)
			}
			for _, envs := range batches {
				for _, env := range envs {
					ctl := env.Message.Control
					if env.Message.Type == pubsub.MessageTypeControl && ctl != nil && ctl.Type == pubsub.ControlStartOfPush {
						logger.Debug("start-of-push found", "topic", versionTopic, "offset", env.Offset)
						return ctl.CompressionDictionary, nil
					}
					if env.Message.Type != pubsub.MessageTypeControl {
						return nil, fmt.Errorf("%s carries data before start-of-push", tp)
					}
				}
			}
		}
		return nil, fmt.Errorf("no start-of-push found at the beginning of %s", tp)
	}
}
