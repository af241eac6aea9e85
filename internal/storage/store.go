package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"tsundoku/internal/config"
	"tsundoku/internal/services"
)

// Store is a durable key/value store holding JSON-serializable values.
type Store interface {
	// Get decodes the value stored at key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Keys lists stored keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Sizer is implemented by backends that can report how many bytes they hold.
type Sizer interface {
	Size(ctx context.Context) (int64, error)
}

// GetOr returns the value stored at key, or def when the key is absent.
func GetOr[T any](ctx context.Context, s Store, key string, def T) (T, error) {
	var value T
	found, err := s.Get(ctx, key, &value)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	return value, nil
}

// Open constructs the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "open", "config is required", nil)
	}
	quota := cfg.Storage.QuotaBytes
	switch cfg.Storage.Backend {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.Storage.SQLitePath, quota)
	case "json":
		return OpenJSONFile(cfg.Storage.JSONPath, quota, logger)
	case "memory":
		return NewMemory(quota), nil
	case "redis":
		return OpenRedis(ctx, RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		})
	default:
		return nil, services.Wrap(services.ErrConfiguration, "storage", "open", fmt.Sprintf("unsupported backend %q", cfg.Storage.Backend), nil)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return services.Wrap(services.ErrValidation, "storage", "key", "key must not be empty", nil)
	}
	return nil
}

func encodeValue(key string, value any) ([]byte, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, services.Wrap(services.ErrValidation, "storage", "encode", key, fmt.Errorf("invalid raw json"))
		}
		return append([]byte(nil), raw...), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "storage", "encode", key, err)
	}
	return data, nil
}

func decodeValue(key string, data []byte, dst any) error {
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return services.Wrap(services.ErrStorage, "storage", "decode", key, err)
	}
	return nil
}
