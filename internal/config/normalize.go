package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment variables that override file values,
// for example TSUNDOKU_STORAGE_BACKEND or TSUNDOKU_LOG_LEVEL.
const EnvPrefix = "tsundoku"

func (c *Config) applyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeCatalog()
	c.normalizeCache()
	c.normalizePacing()
	c.normalizeDiscovery()
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	var err error
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if strings.TrimSpace(c.Storage.SQLitePath) == "" {
		c.Storage.SQLitePath = filepath.Join(c.Paths.DataDir, defaultSQLiteName)
	}
	if c.Storage.SQLitePath, err = expandPath(strings.TrimSpace(c.Storage.SQLitePath)); err != nil {
		return fmt.Errorf("storage.sqlite_path: %w", err)
	}
	if strings.TrimSpace(c.Storage.JSONPath) == "" {
		c.Storage.JSONPath = filepath.Join(c.Paths.DataDir, defaultJSONName)
	}
	if c.Storage.JSONPath, err = expandPath(strings.TrimSpace(c.Storage.JSONPath)); err != nil {
		return fmt.Errorf("storage.json_path: %w", err)
	}
	c.Storage.RedisAddr = strings.TrimSpace(c.Storage.RedisAddr)
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = defaultRedisPrefix
	}
	return nil
}

func (c *Config) normalizeCatalog() {
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = defaultCatalogBaseURL
	}
	c.Catalog.SiteURL = strings.TrimRight(strings.TrimSpace(c.Catalog.SiteURL), "/")
	if c.Catalog.SiteURL == "" {
		c.Catalog.SiteURL = defaultCatalogSiteURL
	}
	c.Catalog.UserAgent = strings.TrimSpace(c.Catalog.UserAgent)
	if c.Catalog.UserAgent == "" {
		c.Catalog.UserAgent = defaultCatalogUserAgent
	}
	if c.Catalog.TimeoutSeconds == 0 {
		c.Catalog.TimeoutSeconds = defaultCatalogTimeoutSeconds
	}
	if c.Catalog.SearchLimit <= 0 {
		c.Catalog.SearchLimit = defaultCatalogSearchLimit
	}
}

func (c *Config) normalizeCache() {
	if c.Cache.MemoryEntriesPerType == 0 {
		c.Cache.MemoryEntriesPerType = defaultMemoryEntriesPerType
	}
	if c.Cache.MemoryEvictBatch <= 0 {
		c.Cache.MemoryEvictBatch = defaultMemoryEvictBatch
	}
	if c.Cache.SweepIntervalHours == 0 {
		c.Cache.SweepIntervalHours = defaultSweepIntervalHours
	}
}

func (c *Config) normalizePacing() {
	if c.Pacing.BatchSize == 0 {
		c.Pacing.BatchSize = defaultBatchSize
	}
	if c.Pacing.BackoffMultiplier == 0 {
		c.Pacing.BackoffMultiplier = defaultBackoffMultiplier
	}
}

func (c *Config) normalizeDiscovery() {
	if c.Discovery.CheckIntervalHours == 0 {
		c.Discovery.CheckIntervalHours = defaultCheckIntervalHours
	}
	if c.Discovery.FutureWindowDays == 0 {
		c.Discovery.FutureWindowDays = defaultFutureWindowDays
	}
}

func (c *Config) normalizeDaemon() error {
	var err error
	c.Daemon.MetricsBind = strings.TrimSpace(c.Daemon.MetricsBind)
	if strings.TrimSpace(c.Daemon.LockPath) == "" {
		c.Daemon.LockPath = filepath.Join(c.Paths.DataDir, defaultLockName)
	}
	if c.Daemon.LockPath, err = expandPath(strings.TrimSpace(c.Daemon.LockPath)); err != nil {
		return fmt.Errorf("daemon.lock_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds == 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
