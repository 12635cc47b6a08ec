package main

import (
	"github.com/septivank/station-observation-ingestor/internal/config"
	"github.com/septivank/station-observation-ingestor/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}
