package main

import (
	"context"

	"github.com/septivank/station-observation-ingestor/internal/checkpoint"
	"github.com/septivank/station-observation-ingestor/internal/config"
	"github.com/septivank/station-observation-ingestor/internal/db"
	"github.com/septivank/station-observation-ingestor/internal/directory"
	"github.com/septivank/station-observation-ingestor/internal/mq"
	"github.com/septivank/station-observation-ingestor/internal/mqttbus"
	"github.com/septivank/station-observation-ingestor/internal/noaa"
	"github.com/septivank/station-observation-ingestor/internal/processor"
	"github.com/septivank/station-observation-ingestor/internal/scheduler"
	"github.com/septivank/station-observation-ingestor/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// checkpointStore is implemented by every checkpoint backend
type checkpointStore interface {
	checkpoint.Store
	checkpoint.Lister
}

func startScheduler(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	s *scheduler.Scheduler,
	logger *zap.Logger,
) {
	// Cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting scheduler")
			go func() {
				defer close(done)
				if err := s.Run(ctx); err != nil {
					logger.Error("scheduler stopped with unrecoverable error", zap.Error(err))
					if shutdownErr := shutdowner.Shutdown(fx.ExitCode(1)); shutdownErr != nil {
						logger.Error("failed to request shutdown", zap.Error(shutdownErr))
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			defer logger.Sync() //nolint:errcheck

			select {
			case <-done:
				logger.Info("ingestor stopped gracefully")
				return nil
			case <-stopCtx.Done():
				logger.Error("scheduler did not stop in time")
				return stopCtx.Err()
			}
		},
	})
}

// ProvideConfig loads the configuration
func ProvideConfig() (*config.Config, error) {
	return config.Load()
}

// ProvideNoaaClient creates the weather.gov client
func ProvideNoaaClient(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *noaa.Client {
	client := noaa.NewClient(noaa.ClientConfig{
		BaseURL:           cfg.Noaa.BaseURL,
		UserAgent:         cfg.Noaa.UserAgent,
		Timeout:           cfg.Noaa.Timeout.Duration(),
		RequestsPerSecond: cfg.Noaa.RequestsPerSecond,
		Burst:             cfg.Noaa.Burst,
		MaxConnsPerHost:   cfg.Noaa.MaxConnsPerHost,
	}, logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.Close()
			return nil
		},
	})

	return client
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validator.Validator {
	return validator.NewValidator()
}

// ProvideDirectory creates the station directory
func ProvideDirectory(
	client *noaa.Client,
	v *validator.Validator,
	cfg *config.Config,
	logger *zap.Logger,
) *directory.Directory {
	return directory.New(client, v, directory.Config{
		Attempts:   cfg.Directory.Attempts,
		RetryDelay: cfg.Directory.RetryDelay.Duration(),
	}, logger)
}

// ProvideCheckpointStore opens the configured checkpoint backend
func ProvideCheckpointStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (checkpointStore, error) {
	if err := cfg.RequireCheckpoint(); err != nil {
		return nil, err
	}

	switch cfg.Checkpoint.Backend {
	case config.BackendPostgres:
		pool, err := db.NewPool(lc, logger, cfg.Database.URL, int32(cfg.Database.MaxConns))
		if err != nil {
			return nil, err
		}
		store := checkpoint.NewPostgresStore(pool, cfg.Checkpoint.PartitionKey)
		// Runs after the pool ping hook
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return store.EnsureSchema(ctx)
			},
		})
		return store, nil

	case config.BackendSQLite:
		store, err := checkpoint.OpenSQLiteStore(context.Background(), cfg.Checkpoint.SQLitePath, cfg.Checkpoint.PartitionKey)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite checkpoints", zap.String("path", cfg.Checkpoint.SQLitePath))
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close()
			},
		})
		return store, nil

	default:
		logger.Warn("using in-memory checkpoints, cursors are lost on restart")
		return checkpoint.NewMemoryStore(cfg.Checkpoint.PartitionKey), nil
	}
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the publisher of the configured bus
func ProvidePublisher(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (processor.Publisher, error) {
	if err := cfg.RequireBus(); err != nil {
		return nil, err
	}

	if cfg.Bus.Backend == config.BusMQTT {
		pub := mqttbus.NewPublisher(mqttbus.Config{
			Broker:         cfg.MQTT.Broker,
			Port:           cfg.MQTT.Port,
			ClientID:       cfg.MQTT.ClientID,
			Topic:          cfg.MQTT.Topic,
			PublishTimeout: cfg.MQTT.PublishTimeout.Duration(),
		}, logger)

		lc.Append(fx.Hook{
			OnStart: pub.Connect,
			OnStop: func(ctx context.Context) error {
				pub.Disconnect()
				return nil
			},
		})
		return pub, nil
	}

	conn, err := ProvideMQConnection(lc, logger, cfg)
	if err != nil {
		return nil, err
	}

	pub, err := mq.NewPublisher(mq.PublisherConfig{
		Connection:     conn,
		Exchange:       cfg.RabbitMQ.Exchange,
		RoutingKey:     cfg.RabbitMQ.RoutingKey,
		ConfirmTimeout: cfg.RabbitMQ.ConfirmTimeout.Duration(),
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	// Stop hooks run in reverse order, so the channel closes before the connection
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}

// ProvideScheduler creates the pass scheduler and its per-station processor factory
func ProvideScheduler(
	dir *directory.Directory,
	client *noaa.Client,
	store checkpointStore,
	publisher processor.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *scheduler.Scheduler {
	processorCfg := processor.Config{
		LookBack:        cfg.Processor.LookBack.Duration(),
		SleepCeiling:    cfg.Processor.SleepCeiling.Duration(),
		PullAttempts:    cfg.Processor.PullAttempts,
		PullDelay:       cfg.Processor.PullDelay.Duration(),
		PullJitter:      cfg.Processor.PullJitter.Duration(),
		MaxMessageBytes: cfg.Bus.MaxMessageBytes,
	}

	factory := func(station noaa.Station) scheduler.StationProcessor {
		return processor.New(station, client, publisher, store, processorCfg, logger)
	}

	return scheduler.New(dir, factory, scheduler.Config{
		Concurrency:      cfg.Scheduler.Concurrency,
		MinPassInterval:  cfg.Scheduler.MinPassInterval.Duration(),
		ThrottleCooldown: cfg.Scheduler.ThrottleCooldown.Duration(),
		RefreshInterval:  cfg.Scheduler.RefreshInterval.Duration(),
	}, logger)
}
