package storage

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tsundoku/internal/services"
)

// ErrQuotaExceeded reports that a write did not fit in the available storage.
var ErrQuotaExceeded = fmt.Errorf("%w: quota exceeded", services.ErrStorage)

// IsQuotaExceeded reports whether err is a storage exhaustion failure.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

func quotaError(key string, need, limit int64) error {
	return fmt.Errorf("%w: writing %q needs %d bytes, limit %d", ErrQuotaExceeded, key, need, limit)
}

// classifyWriteError maps disk-full conditions onto ErrQuotaExceeded and tags
// everything else as a storage error.
func classifyWriteError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT) {
		return fmt.Errorf("%w: %s %q: %w", ErrQuotaExceeded, op, key, err)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("%w: %s %q: %w", ErrQuotaExceeded, op, key, err)
	}
	return services.Wrap(services.ErrStorage, "storage", op, key, err)
}

// Reclaimer frees space in a store after a quota failure, typically by
// purging expendable cache entries.
type Reclaimer interface {
	Reclaim(ctx context.Context) error
}

// SetWithReclaim writes value and, when the write fails with
// ErrQuotaExceeded, asks r to free space and retries exactly once. The second
// failure is returned to the caller.
func SetWithReclaim(ctx context.Context, s Store, key string, value any, r Reclaimer) error {
	err := s.Set(ctx, key, value)
	if err == nil || r == nil || !IsQuotaExceeded(err) {
		return err
	}
	if reclaimErr := r.Reclaim(ctx); reclaimErr != nil {
		return fmt.Errorf("%w (reclaim failed: %v)", err, reclaimErr)
	}
	return s.Set(ctx, key, value)
}
