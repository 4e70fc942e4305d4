// Command venice-cdc tails a store's change stream and prints decoded
// change events as JSON lines.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jayaprabhakar/venice/internal/consumer"
	"github.com/jayaprabhakar/venice/internal/coordinate"
	metamem "github.com/jayaprabhakar/venice/internal/metadata/memory"
	"github.com/jayaprabhakar/venice/internal/pubsub"
	"github.com/jayaprabhakar/venice/internal/pubsub/kafka"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "venice-cdc",
		Short:   "Change-data-capture consumer for versioned key-value stores",
		Version: version,
	}
	rootCmd.AddCommand(tailCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func tailCommand() *cobra.Command {
	var (
		store        string
		metadataPath string
		brokers      string
		partitions   string
		from         string
		ckptTopic    string
		ckptPart     int32
		ckptOffset   int64
		logLevel     string
		tlsEnabled   bool
		saslMech     string
		saslUser     string
		saslPassword string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail a store's change stream and print events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(logLevel)
			if err != nil {
				return err
			}

			meta, err := metamem.LoadFile(metadataPath)
			if err != nil {
				return err
			}

			kafkaParams := map[string]string{
				"brokers":   brokers,
				"client_id": "venice-cdc",
			}
			if tlsEnabled {
				kafkaParams["tls"] = "true"
			}
			if saslMech != "" {
				kafkaParams["sasl_mechanism"] = saslMech
				kafkaParams["sasl_user"] = saslUser
				kafkaParams["sasl_password"] = saslPassword
			}
			kafkaCfg, err := kafka.ParseConfig(kafkaParams)
			if err != nil {
				return err
			}
			kafkaCfg.Logger = logger

			broker, err := kafka.New(kafkaCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := consumer.New[any, any](ctx, consumer.Config{
				Store:  store,
				Broker: broker,
				BrokerFactory: func() (pubsub.Consumer, error) {
					return kafka.New(kafkaCfg)
				},
				Metadata: meta,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer c.Close()

			ps, err := parsePartitions(partitions, c.PartitionCount())
			if err != nil {
				return err
			}
			ckpt := coordinate.Coordinate{Topic: ckptTopic, Partition: ckptPart, Offset: ckptOffset}
			if err := position(ctx, c, ps, from, ckpt); err != nil {
				return err
			}

			logger.Info("tailing", "store", store, "partitions", ps, "from", from)
			return tail(ctx, c, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&store, "store", "", "store name (required)")
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "path to the store metadata fixture (required)")
	cmd.Flags().StringVar(&brokers, "brokers", "localhost:9092", "comma-separated Kafka brokers")
	cmd.Flags().StringVar(&partitions, "partitions", "", "comma-separated partitions (default: all)")
	cmd.Flags().StringVar(&from, "from", "beginning", "start position: beginning, end, tail, or checkpoint")
	cmd.Flags().StringVar(&ckptTopic, "checkpoint-topic", "", "topic of the resume coordinate (with --from checkpoint)")
	cmd.Flags().Int32Var(&ckptPart, "checkpoint-partition", 0, "partition of the resume coordinate (with --from checkpoint)")
	cmd.Flags().Int64Var(&ckptOffset, "checkpoint-offset", 0, "offset of the resume coordinate (with --from checkpoint)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&tlsEnabled, "tls", false, "enable TLS")
	cmd.Flags().StringVar(&saslMech, "sasl-mechanism", "", "SASL mechanism: plain, scram-sha-256, scram-sha-512")
	cmd.Flags().StringVar(&saslUser, "sasl-user", "", "SASL user")
	cmd.Flags().StringVar(&saslPassword, "sasl-password", "", "SASL password")
	_ = cmd.MarkFlagRequired("store")
	_ = cmd.MarkFlagRequired("metadata")
	return cmd
}

func buildLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func parsePartitions(s string, count int) ([]int32, error) {
	if s == "" {
		out := make([]int32, count)
		for i := range out {
			out[i] = int32(i)
		}
		return out, nil
	}
	var out []int32
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", part, err)
		}
		out = append(out, int32(n))
	}
	return out, nil
}

// position subscribes and applies the requested start position.
func position(ctx context.Context, c *consumer.Consumer[any, any], partitions []int32, from string, ckpt coordinate.Coordinate) error {
	if err := <-c.Subscribe(ctx, partitions); err != nil {
		return err
	}
	switch from {
	case "beginning":
		return nil
	case "end":
		return <-c.SeekToEndOfPush(ctx, partitions...)
	case "tail":
		return <-c.SeekToTail(ctx, partitions...)
	case "checkpoint":
		if ckpt.Topic == "" {
			return fmt.Errorf("--from checkpoint requires --checkpoint-topic")
		}
		return <-c.SeekToCheckpoint(ctx, ckpt)
	default:
		return fmt.Errorf("unknown start position %q (supported: beginning, end, tail, checkpoint)", from)
	}
}

// eventLine is the printed shape of one change event.
type eventLine struct {
	Key       any       `json:"key"`
	Before    any       `json:"before,omitempty"`
	After     any       `json:"after,omitempty"`
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

func tail(ctx context.Context, c *consumer.Consumer[any, any], out *os.File) error {
	enc := json.NewEncoder(out)
	for {
		events, err := c.Poll(ctx, time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		for _, ev := range events {
			line := eventLine{
				Key:       ev.Key,
				Topic:     ev.Coordinate.Topic,
				Partition: ev.Partition,
				Offset:    ev.Offset,
				Timestamp: ev.Timestamp,
			}
			if ev.Before != nil {
				line.Before = *ev.Before
			}
			if ev.After != nil {
				line.After = *ev.After
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}
}
