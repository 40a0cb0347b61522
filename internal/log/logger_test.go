package log

import (
	"testing"

	"trade-gate/internal/config"
)

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "loud"}, "test"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLogger_DefaultsOutputs(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Encoding: "json"}, "test")
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger instance")
	}
	logger.Debug("logger smoke test")
}
