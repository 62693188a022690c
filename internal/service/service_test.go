package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Stream.BaseDelay != time.Second || cfg.Stream.MaxDelay != 300*time.Second {
		t.Errorf("unexpected stream defaults: %+v", cfg.Stream)
	}
	if cfg.Cache.TTL != time.Hour || cfg.Alerts.Interval != time.Minute {
		t.Errorf("unexpected cache/alerts defaults: %+v %+v", cfg.Cache, cfg.Alerts)
	}
	got := cfg.EnabledExchanges()
	if len(got) != 2 || got[0] != "bitget" || got[1] != "indodax" {
		t.Errorf("unexpected enabled exchanges\nexpected: [[bitget indodax]]\nactual:   [%v]", got)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
retry:
  attempts: 5
  base_delay: 250ms
exchanges:
  binance:
    enabled: true
symbols: [SOLUSDT]
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKET_ALERTS_INTERVAL", "30s")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retry.Attempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("unexpected retry config: %+v", cfg.Retry)
	}
	if cfg.Alerts.Interval != 30*time.Second {
		t.Errorf("expected env override, got %s", cfg.Alerts.Interval)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "SOLUSDT" {
		t.Errorf("unexpected symbols: %v", cfg.Symbols)
	}
	if len(cfg.EnabledExchanges()) != 3 {
		t.Errorf("expected binance enabled: %v", cfg.EnabledExchanges())
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("retry:\n  attempts: 0\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Errorf("expected validation error for zero attempts")
	}
}

func TestLoadConfigRejectsDisabledAlertExchange(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("exchanges:\n  bitget:\n    enabled: false\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil || !strings.Contains(err.Error(), "alerts.exchange") {
		t.Errorf("expected alerts.exchange validation error, got %v", err)
	}

	t.Setenv("MARKET_ALERTS_EXCHANGE", "indodax")
	if _, err := LoadConfig(dir); err != nil {
		t.Errorf("unexpected error with an enabled alert exchange: %v", err)
	}
}

func TestIntervals(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"15m": 15 * time.Minute,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for s, d := range cases {
		got, err := ParseIntervalDuration(s)
		if err != nil || got != d {
			t.Errorf("unexpected duration for %s\nexpected: [%s]\nactual:   [%s] (%v)", s, d, got, err)
		}
		if FormatInterval(d) != s {
			t.Errorf("unexpected format for %s: %s", d, FormatInterval(d))
		}
	}
	for _, bad := range []string{"", "m", "0m", "5x", "-1h"} {
		if _, err := ParseIntervalDuration(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseNumberAndFormatPrice(t *testing.T) {
	v, err := ParseNumber(" 65000.12 ")
	if err != nil || v != 65000.12 {
		t.Errorf("unexpected parse: %v %v", v, err)
	}
	if _, err := ParseNumber("abc"); err == nil {
		t.Errorf("expected error for non-number")
	}
	if got := FormatPrice(51000, 2); got != "51000.00" {
		t.Errorf("unexpected format: %s", got)
	}
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(LogConfig{Level: "debug", File: file, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
	if info, err := os.Stat(file); err != nil || info.Size() == 0 {
		t.Errorf("expected log file to be written: %v", err)
	}
	if _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Errorf("expected error for invalid level")
	}
}
