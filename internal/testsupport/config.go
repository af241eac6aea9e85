package testsupport

import (
	"path/filepath"
	"testing"

	"tsundoku/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Storage defaults to the in-memory backend and pacing to zero delays.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.Backend = "memory"
	cfgVal.Storage.SQLitePath = filepath.Join(base, "data", "tsundoku.db")
	cfgVal.Storage.JSONPath = filepath.Join(base, "data", "tsundoku.json")
	cfgVal.Daemon.LockPath = filepath.Join(base, "data", "tsundoku.lock")
	cfgVal.Pacing.RequestIntervalMillis = 0
	cfgVal.Pacing.BatchIntervalMillis = 0
	cfgVal.Pacing.BackoffBaseMillis = 0
	cfgVal.Pacing.RequestsPerMinute = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend selects the storage backend on the test config.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Backend = backend
	}
}

// WithCatalog points the catalog client at baseURL.
func WithCatalog(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Catalog.BaseURL = baseURL
	}
}

// WithQuota sets the storage soft quota in bytes.
func WithQuota(bytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.QuotaBytes = bytes
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
