package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default returned error: %v", err)
	}

	if cfg.Execution.IcebergThresholdQty != 500 {
		t.Errorf("iceberg threshold = %d, want 500", cfg.Execution.IcebergThresholdQty)
	}
	if cfg.Execution.ClipSize != 100 {
		t.Errorf("clip size = %d, want 100", cfg.Execution.ClipSize)
	}
	if cfg.Execution.VolatilityThreshold != 0.03 {
		t.Errorf("volatility threshold = %v, want 0.03", cfg.Execution.VolatilityThreshold)
	}
	if cfg.Circuit.FailureThreshold != 3 {
		t.Errorf("failure threshold = %d, want 3", cfg.Circuit.FailureThreshold)
	}
	if cfg.Circuit.RecoveryTimeout != 60*time.Second {
		t.Errorf("recovery timeout = %v, want 60s", cfg.Circuit.RecoveryTimeout)
	}
	if cfg.Risk.LiquidityLockMonths != 3.0 {
		t.Errorf("liquidity lock months = %v, want 3.0", cfg.Risk.LiquidityLockMonths)
	}
	if cfg.Risk.MarginDangerRatio != 0.10 {
		t.Errorf("margin danger ratio = %v, want 0.10", cfg.Risk.MarginDangerRatio)
	}
	if cfg.Broker.Kind != "mock" {
		t.Errorf("broker kind = %s, want mock", cfg.Broker.Kind)
	}
	if cfg.Execution.MaxBatches != 1000 {
		t.Errorf("max batches = %d, want 1000", cfg.Execution.MaxBatches)
	}
	if len(cfg.Execution.DefaultVWAPProfile) != 0 {
		t.Errorf("expected empty default profile, got %v", cfg.Execution.DefaultVWAPProfile)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
execution:
  clip_size: 250
  default_vwap_profile: [1, 2, 1]
circuit:
  recovery_timeout: 5s
broker:
  mock:
    prices:
      AAPL: 190.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Execution.ClipSize != 250 {
		t.Errorf("clip size = %d, want 250", cfg.Execution.ClipSize)
	}
	if len(cfg.Execution.DefaultVWAPProfile) != 3 {
		t.Errorf("profile = %v, want 3 weights", cfg.Execution.DefaultVWAPProfile)
	}
	if cfg.Circuit.RecoveryTimeout != 5*time.Second {
		t.Errorf("recovery timeout = %v, want 5s", cfg.Circuit.RecoveryTimeout)
	}
	if cfg.Broker.Mock.Prices["aapl"] != 190.5 {
		t.Errorf("mock price = %v, want 190.5", cfg.Broker.Mock.Prices)
	}
	if cfg.Execution.IcebergThresholdQty != 500 {
		t.Errorf("unset keys should keep defaults, got %d", cfg.Execution.IcebergThresholdQty)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate_AggregatesViolations(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default returned error: %v", err)
	}
	cfg.Execution.ClipSize = 0
	cfg.Circuit.FailureThreshold = 0
	cfg.Broker.Kind = "paper"

	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"execution.clip_size", "circuit.failure_threshold", "broker.kind"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in error, got %s", want, msg)
		}
	}
}

func TestLoad_RejectsZeroRiskThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
risk:
  liquidity_lock_months: 0
  margin_danger_ratio: 0
execution:
  max_batches: 0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected zero thresholds to be rejected")
	}
	msg := err.Error()
	for _, want := range []string{"risk.liquidity_lock_months", "risk.margin_danger_ratio", "execution.max_batches"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in error, got %s", want, msg)
		}
	}
}
