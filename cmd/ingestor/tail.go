package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/station-observation-ingestor/internal/config"
	"github.com/septivank/station-observation-ingestor/internal/mq"
	"github.com/septivank/station-observation-ingestor/internal/noaa"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	tailQueue      string
	tailRoutingKey string
	tailPrefetch   int
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print observation batches published to RabbitMQ",
	Long: `tail binds its own queue to the observations exchange and prints one line
per batch. Without --queue the queue is server-named and removed on exit, so
tailing never takes messages away from real subscribers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			cfg    *config.Config
			conn   *mq.Connection
			logger *zap.Logger
		)

		return runOneShot(ctx, func(ctx context.Context) error {
			routingKey := tailRoutingKey
			if routingKey == "" {
				routingKey = cfg.RabbitMQ.RoutingKey
			}

			out := cmd.OutOrStdout()
			consumer, err := mq.NewConsumer(mq.ConsumerConfig{
				Connection:    conn,
				Exchange:      cfg.RabbitMQ.Exchange,
				RoutingKey:    routingKey,
				Queue:         tailQueue,
				PrefetchCount: tailPrefetch,
				Logger:        logger,
				Handler: func(ctx context.Context, msg amqp.Delivery) error {
					line, err := describeBatch(msg.MessageId, msg.Body)
					if err != nil {
						return err
					}
					_, err = io.WriteString(out, line+"\n")
					return err
				},
			})
			if err != nil {
				return err
			}
			defer consumer.Close()

			fmt.Fprintf(cmd.ErrOrStderr(), "tailing %s (%s) via queue %s\n", cfg.RabbitMQ.Exchange, routingKey, consumer.Queue())
			return consumer.Run(ctx)
		},
			fx.Provide(ProvideConfig, newLogger, ProvideMQConnection),
			fx.Populate(&cfg, &conn, &logger),
		)
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailQueue, "queue", "", "durable queue to consume instead of a temporary one")
	tailCmd.Flags().StringVar(&tailRoutingKey, "routing-key", "", "binding key (defaults to RABBITMQ_ROUTING_KEY)")
	tailCmd.Flags().IntVar(&tailPrefetch, "prefetch", 10, "unacknowledged messages in flight")
}

// describeBatch summarizes one published batch on a single line
func describeBatch(messageID string, body []byte) (string, error) {
	var observations []noaa.Observation
	if err := json.Unmarshal(body, &observations); err != nil {
		return "", fmt.Errorf("message %s is not an observation batch: %w", messageID, err)
	}

	if len(observations) == 0 {
		return fmt.Sprintf("%s  empty batch  %d bytes", messageID, len(body)), nil
	}

	stations := map[string]struct{}{}
	first, last := observations[0].Timestamp, observations[0].Timestamp
	for _, o := range observations {
		stations[o.StationID] = struct{}{}
		if o.Timestamp.Before(first) {
			first = o.Timestamp
		}
		if o.Timestamp.After(last) {
			last = o.Timestamp
		}
	}

	return fmt.Sprintf("%s  %d observations  %d stations  %s .. %s  %d bytes",
		messageID,
		len(observations),
		len(stations),
		first.UTC().Format(time.RFC3339),
		last.UTC().Format(time.RFC3339),
		len(body),
	), nil
}
