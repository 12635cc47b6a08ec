package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName, level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithStation returns a logger with station field
func WithStation(logger *zap.Logger, stationKey string) *zap.Logger {
	return logger.With(zap.String("station", stationKey))
}

// WithPass returns a logger with pass_id field
func WithPass(logger *zap.Logger, passID string) *zap.Logger {
	return logger.With(zap.String("pass_id", passID))
}
