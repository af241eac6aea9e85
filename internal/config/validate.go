package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validatePacing(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "sqlite", "json", "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr must be set when storage.backend is redis")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (use sqlite, json, memory or redis)", c.Storage.Backend)
	}
	if c.Storage.QuotaBytes < 0 {
		return errors.New("storage.quota_bytes must not be negative")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if c.Catalog.TimeoutSeconds < 1 || c.Catalog.TimeoutSeconds > 120 {
		return errors.New("catalog.timeout_seconds must be between 1 and 120")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.SearchTTLMinutes <= 0 || c.Cache.DetailsTTLMinutes <= 0 || c.Cache.RelatedTTLMinutes <= 0 {
		return errors.New("cache ttl values must be positive")
	}
	if c.Cache.MemoryEntriesPerType < 1 {
		return errors.New("cache.memory_entries_per_type must be at least 1")
	}
	if c.Cache.SweepIntervalHours < 1 {
		return errors.New("cache.sweep_interval_hours must be at least 1")
	}
	return nil
}

func (c *Config) validatePacing() error {
	if c.Pacing.BatchSize < 1 {
		return errors.New("pacing.batch_size must be at least 1")
	}
	if c.Pacing.RequestIntervalMillis < 0 || c.Pacing.BatchIntervalMillis < 0 || c.Pacing.BackoffBaseMillis < 0 {
		return errors.New("pacing intervals must not be negative")
	}
	if c.Pacing.BackoffMultiplier < 1 {
		return errors.New("pacing.backoff_multiplier must be at least 1")
	}
	if c.Pacing.BackoffMaxAttempts < 0 {
		return errors.New("pacing.backoff_max_attempts must not be negative")
	}
	if c.Pacing.RequestsPerMinute < 0 {
		return errors.New("pacing.requests_per_minute must not be negative")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.ReconcileIntervalMinutes < 1 || c.Daemon.DiscoveryIntervalMinutes < 1 {
		return errors.New("daemon intervals must be at least one minute")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeoutSeconds < 1 {
		return errors.New("notifications.request_timeout_seconds must be at least 1")
	}
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic: %q must be a full http(s) URL", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
