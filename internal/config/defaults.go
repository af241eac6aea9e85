package config

const (
	defaultConfigPath              = "~/.config/tsundoku/config.toml"
	defaultDataDir                 = "~/.local/share/tsundoku"
	defaultLogDir                  = "~/.local/share/tsundoku/logs"
	defaultStorageBackend          = "sqlite"
	defaultSQLiteName              = "tsundoku.db"
	defaultJSONName                = "tsundoku.json"
	defaultRedisPrefix             = "tsundoku:"
	defaultCatalogBaseURL          = "https://shikimori.one/api"
	defaultCatalogSiteURL          = "https://shikimori.one"
	defaultCatalogUserAgent        = "Tsundoku/1.0"
	defaultCatalogTimeoutSeconds   = 20
	defaultCatalogSearchLimit      = 20
	defaultSearchTTLMinutes        = 30
	defaultDetailsTTLMinutes       = 7 * 24 * 60
	defaultRelatedTTLMinutes       = 24 * 60
	defaultMemoryEntriesPerType    = 100
	defaultMemoryEvictBatch        = 20
	defaultSweepIntervalHours      = 24
	defaultRequestIntervalMillis   = 3000
	defaultBatchIntervalMillis     = 10000
	defaultBatchSize               = 2
	defaultBackoffBaseMillis       = 15000
	defaultBackoffMultiplier       = 2.0
	defaultBackoffMaxAttempts      = 2
	defaultRequestsPerMinute       = 20.0
	defaultCheckIntervalHours      = 24
	defaultFutureWindowDays        = 365
	defaultReconcileIntervalMinute = 6 * 60
	defaultDiscoveryIntervalMinute = 24 * 60
	defaultLockName                = "tsundoku.lock"
	defaultNotifyTimeoutSeconds    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Storage: Storage{
			Backend:     defaultStorageBackend,
			RedisPrefix: defaultRedisPrefix,
		},
		Catalog: Catalog{
			BaseURL:        defaultCatalogBaseURL,
			SiteURL:        defaultCatalogSiteURL,
			UserAgent:      defaultCatalogUserAgent,
			TimeoutSeconds: defaultCatalogTimeoutSeconds,
			SearchLimit:    defaultCatalogSearchLimit,
		},
		Cache: Cache{
			SearchTTLMinutes:     defaultSearchTTLMinutes,
			DetailsTTLMinutes:    defaultDetailsTTLMinutes,
			RelatedTTLMinutes:    defaultRelatedTTLMinutes,
			MemoryEntriesPerType: defaultMemoryEntriesPerType,
			MemoryEvictBatch:     defaultMemoryEvictBatch,
			SweepIntervalHours:   defaultSweepIntervalHours,
		},
		Pacing: Pacing{
			RequestIntervalMillis: defaultRequestIntervalMillis,
			BatchIntervalMillis:   defaultBatchIntervalMillis,
			BatchSize:             defaultBatchSize,
			BackoffBaseMillis:     defaultBackoffBaseMillis,
			BackoffMultiplier:     defaultBackoffMultiplier,
			BackoffMaxAttempts:    defaultBackoffMaxAttempts,
			RequestsPerMinute:     defaultRequestsPerMinute,
		},
		Discovery: Discovery{
			CheckIntervalHours: defaultCheckIntervalHours,
			FutureWindowDays:   defaultFutureWindowDays,
		},
		Daemon: Daemon{
			ReconcileIntervalMinutes: defaultReconcileIntervalMinute,
			DiscoveryIntervalMinutes: defaultDiscoveryIntervalMinute,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
