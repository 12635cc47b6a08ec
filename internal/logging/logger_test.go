package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Level(t *testing.T) {
	logger, err := NewLogger("ingestor", "debug")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}

	logger, err = NewLogger("ingestor", "")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected production default to hide debug")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger("ingestor", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestWithStationAndPass(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WithPass(WithStation(zap.New(core), "KSEA"), "pass-1")

	logger.Info("hello")

	fields := logs.All()[0].ContextMap()
	if fields["station"] != "KSEA" || fields["pass_id"] != "pass-1" {
		t.Errorf("unexpected fields %v", fields)
	}
}
