package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tsundoku/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "tsundoku")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Fatalf("expected sqlite backend by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.SQLitePath != filepath.Join(wantData, "tsundoku.db") {
		t.Fatalf("unexpected sqlite path: %q", cfg.Storage.SQLitePath)
	}
	if cfg.Catalog.BaseURL != "https://shikimori.one/api" {
		t.Fatalf("unexpected catalog base url: %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.UserAgent != "Tsundoku/1.0" {
		t.Fatalf("unexpected user agent: %q", cfg.Catalog.UserAgent)
	}
	search, details, related := cfg.CacheTTLs()
	if search.Minutes() != 30 || details.Hours() != 168 || related.Hours() != 24 {
		t.Fatalf("unexpected cache ttls: %v %v %v", search, details, related)
	}
	if cfg.Pacing.BatchSize != 2 || cfg.Pacing.RequestIntervalMillis != 3000 || cfg.Pacing.BatchIntervalMillis != 10000 {
		t.Fatalf("unexpected pacing defaults: %+v", cfg.Pacing)
	}
	if cfg.Pacing.BackoffBaseMillis != 15000 || cfg.Pacing.BackoffMaxAttempts != 2 {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Pacing)
	}
	if cfg.Daemon.LockPath != filepath.Join(wantData, "tsundoku.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.Daemon.LockPath)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	custom := config.Default()
	custom.Paths.DataDir = filepath.Join(tempHome, "data")
	custom.Storage.Backend = "json"
	custom.Catalog.BaseURL = "http://localhost:9999/api/"
	custom.Logging.Format = "JSON"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(tempHome, "custom.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Storage.Backend != "json" {
		t.Fatalf("unexpected backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.JSONPath != filepath.Join(tempHome, "data", "tsundoku.json") {
		t.Fatalf("unexpected json path %q", cfg.Storage.JSONPath)
	}
	if cfg.Catalog.BaseURL != "http://localhost:9999/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Catalog.BaseURL)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercase format, got %q", cfg.Logging.Format)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TSUNDOKU_STORAGE_BACKEND", "redis")
	t.Setenv("TSUNDOKU_STORAGE_REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("TSUNDOKU_LOG_LEVEL", "debug")
	t.Setenv("TSUNDOKU_PACING_BATCH_SIZE", "4")

	path := filepath.Join(tempHome, "config.toml")
	if err := os.WriteFile(path, []byte("[storage]\nbackend = \"sqlite\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("expected redis override, got %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level from env, got %q", cfg.Logging.Level)
	}
	if cfg.Pacing.BatchSize != 4 {
		t.Fatalf("expected batch size 4 from env, got %d", cfg.Pacing.BatchSize)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[storage]\nbakend = \"sqlite\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[catalog]") {
		t.Fatalf("sample config missing catalog section")
	}

	t.Setenv("HOME", t.TempDir())
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Cache.DetailsTTLMinutes != config.Default().Cache.DetailsTTLMinutes {
		t.Fatalf("sample should match defaults, got %d", cfg.Cache.DetailsTTLMinutes)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"redis addr", func(c *config.Config) { c.Storage.Backend = "redis"; c.Storage.RedisAddr = "" }, "redis_addr"},
		{"timeout", func(c *config.Config) { c.Catalog.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"ttl", func(c *config.Config) { c.Cache.SearchTTLMinutes = -1 }, "ttl"},
		{"batch", func(c *config.Config) { c.Pacing.BatchSize = 0 }, "batch_size"},
		{"multiplier", func(c *config.Config) { c.Pacing.BackoffMultiplier = 0.5 }, "backoff_multiplier"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "my-topic" }, "ntfy_topic"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}
