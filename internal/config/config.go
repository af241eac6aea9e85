package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data and log directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir" envconfig:"data_dir"`
	LogDir  string `toml:"log_dir" envconfig:"log_dir"`
}

// Storage selects and configures the persistent key/value backend.
type Storage struct {
	Backend       string `toml:"backend" envconfig:"backend"`
	SQLitePath    string `toml:"sqlite_path" envconfig:"sqlite_path"`
	JSONPath      string `toml:"json_path" envconfig:"json_path"`
	RedisAddr     string `toml:"redis_addr" envconfig:"redis_addr"`
	RedisPassword string `toml:"redis_password" envconfig:"redis_password"`
	RedisDB       int    `toml:"redis_db" envconfig:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix" envconfig:"redis_prefix"`
	QuotaBytes    int64  `toml:"quota_bytes" envconfig:"quota_bytes"` // 0 disables the soft quota
}

// Catalog contains connection settings for the remote anime catalog.
type Catalog struct {
	BaseURL        string `toml:"base_url" envconfig:"base_url"`
	SiteURL        string `toml:"site_url" envconfig:"site_url"`
	UserAgent      string `toml:"user_agent" envconfig:"user_agent"`
	TimeoutSeconds int    `toml:"timeout_seconds" envconfig:"timeout_seconds"`
	SearchLimit    int    `toml:"search_limit" envconfig:"search_limit"`
}

// Cache contains request cache lifetimes and memory bounds.
type Cache struct {
	SearchTTLMinutes     int `toml:"search_ttl_minutes" envconfig:"search_ttl_minutes"`
	DetailsTTLMinutes    int `toml:"details_ttl_minutes" envconfig:"details_ttl_minutes"`
	RelatedTTLMinutes    int `toml:"related_ttl_minutes" envconfig:"related_ttl_minutes"`
	MemoryEntriesPerType int `toml:"memory_entries_per_type" envconfig:"memory_entries_per_type"`
	MemoryEvictBatch     int `toml:"memory_evict_batch" envconfig:"memory_evict_batch"`
	SweepIntervalHours   int `toml:"sweep_interval_hours" envconfig:"sweep_interval_hours"`
}

// Pacing controls how the background engines spend the shared remote request budget.
type Pacing struct {
	RequestIntervalMillis int     `toml:"request_interval_ms" envconfig:"request_interval_ms"`
	BatchIntervalMillis   int     `toml:"batch_interval_ms" envconfig:"batch_interval_ms"`
	BatchSize             int     `toml:"batch_size" envconfig:"batch_size"`
	BackoffBaseMillis     int     `toml:"backoff_base_ms" envconfig:"backoff_base_ms"`
	BackoffMultiplier     float64 `toml:"backoff_multiplier" envconfig:"backoff_multiplier"`
	BackoffMaxAttempts    int     `toml:"backoff_max_attempts" envconfig:"backoff_max_attempts"`
	RequestsPerMinute     float64 `toml:"requests_per_minute" envconfig:"requests_per_minute"`
}

// Discovery contains announcement discovery settings.
type Discovery struct {
	CheckIntervalHours int `toml:"check_interval_hours" envconfig:"check_interval_hours"`
	FutureWindowDays   int `toml:"future_window_days" envconfig:"future_window_days"`
}

// Daemon contains background scheduling settings.
type Daemon struct {
	ReconcileIntervalMinutes int    `toml:"reconcile_interval_minutes" envconfig:"reconcile_interval_minutes"`
	DiscoveryIntervalMinutes int    `toml:"discovery_interval_minutes" envconfig:"discovery_interval_minutes"`
	MetricsBind              string `toml:"metrics_bind" envconfig:"metrics_bind"`
	LockPath                 string `toml:"lock_path" envconfig:"lock_path"`
}

// Notifications configures push notifications for completed titles and new
// announcements.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic" envconfig:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" envconfig:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" envconfig:"format"`
	Level  string `toml:"level" envconfig:"level"`
}

// Config encapsulates all configuration values for tsundoku.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Storage: persistent key/value backend (sqlite, json, memory, redis)
//   - Catalog: remote catalog endpoint and client identity
//   - Cache: request cache TTLs and memory bounds
//   - Pacing: shared request pacing and 429 backoff policy
//   - Discovery: announcement discovery cadence and future-release window
//   - Daemon: background scheduling and metrics endpoint
//   - Notifications: ntfy push target
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths" envconfig:"paths"`
	Storage       Storage       `toml:"storage" envconfig:"storage"`
	Catalog       Catalog       `toml:"catalog" envconfig:"catalog"`
	Cache         Cache         `toml:"cache" envconfig:"cache"`
	Pacing        Pacing        `toml:"pacing" envconfig:"pacing"`
	Discovery     Discovery     `toml:"discovery" envconfig:"discovery"`
	Daemon        Daemon        `toml:"daemon" envconfig:"daemon"`
	Notifications Notifications `toml:"notifications" envconfig:"notifications"`
	Logging       Logging       `toml:"logging" envconfig:"log"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// variables prefixed with TSUNDOKU_ override file values. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tsundoku.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// CatalogTimeout returns the outbound request timeout.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSeconds) * time.Second
}

// CacheTTLs returns search, details and related lifetimes.
func (c *Config) CacheTTLs() (search, details, related time.Duration) {
	return time.Duration(c.Cache.SearchTTLMinutes) * time.Minute,
		time.Duration(c.Cache.DetailsTTLMinutes) * time.Minute,
		time.Duration(c.Cache.RelatedTTLMinutes) * time.Minute
}

// CacheSweepInterval returns the minimum spacing between persistent cache sweeps.
func (c *Config) CacheSweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepIntervalHours) * time.Hour
}

// DiscoveryCheckInterval returns how long a title's check record stays fresh.
func (c *Config) DiscoveryCheckInterval() time.Duration {
	return time.Duration(c.Discovery.CheckIntervalHours) * time.Hour
}

// FutureWindow returns how far back a released title still counts as an announcement.
func (c *Config) FutureWindow() time.Duration {
	return time.Duration(c.Discovery.FutureWindowDays) * 24 * time.Hour
}

// ReconcileInterval returns the daemon's status reconciliation period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Daemon.ReconcileIntervalMinutes) * time.Minute
}

// DiscoveryInterval returns the daemon's announcement discovery period.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Daemon.DiscoveryIntervalMinutes) * time.Minute
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
