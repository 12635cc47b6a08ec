package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 30 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll stations and publish new observations until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngestor()
	},
}

func runIngestor() error {
	app := fx.New(
		fx.Provide(
			ProvideConfig,
			newLogger,
			ProvideNoaaClient,
			ProvideValidator,
			ProvideDirectory,
			ProvideCheckpointStore,
			ProvidePublisher,
			ProvideScheduler,
		),
		fx.Invoke(startScheduler),
	)

	// Used until the configured logger exists
	tempLogger, _ := logging.NewLogger("station-observation-ingestor", "info")
	tempLogger.Info("starting application...", zap.Duration("timeout", startTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			tempLogger.Error("APPLICATION START TIMEOUT: failed to start within 30 seconds. A dependency (checkpoint database, RabbitMQ or MQTT broker) is probably not reachable. Check the error messages above for the failing connection.")
		}
		return err
	}

	// Returns on SIGINT/SIGTERM or when the scheduler requests a shutdown
	sig := <-app.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		tempLogger.Error("error stopping app", zap.Error(err))
	}

	if sig.ExitCode != 0 {
		return fmt.Errorf("ingestor exited with code %d", sig.ExitCode)
	}
	return nil
}

// runOneShot starts a quiet app for a short-lived command, runs fn and stops
// the app again. Values fn needs are pulled out with fx.Populate.
func runOneShot(ctx context.Context, fn func(ctx context.Context) error, opts ...fx.Option) error {
	app := fx.New(append([]fx.Option{fx.NopLogger}, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, startCancel := context.WithTimeout(ctx, startTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
