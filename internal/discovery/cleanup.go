package discovery

import (
	"context"

	"tsundoku/internal/announcements"
	"tsundoku/internal/logging"
)

// CleanupResult counts announcements removed by a cleanup pass.
type CleanupResult struct {
	Orphaned  int `json:"orphaned"`
	InLibrary int `json:"inLibrary"`
	Stale     int `json:"stale"`
}

// Total returns the number of removed announcements.
func (r CleanupResult) Total() int { return r.Orphaned + r.InLibrary + r.Stale }

// Cleanup removes groups whose origin left the library, announcements whose
// title is now in the library, and announcements that no longer classify as
// future releases.
func (e *Engine) Cleanup(ctx context.Context) (CleanupResult, error) {
	e.commit.Lock()
	defer e.commit.Unlock()

	var (
		result CleanupResult
		err    error
	)
	if result.Orphaned, err = e.ann.PruneOrphans(ctx, e.lib.Has); err != nil {
		return result, err
	}
	if result.InLibrary, err = e.ann.PruneEntries(ctx, func(a announcements.Entry) bool {
		return e.lib.Has(a.ID)
	}); err != nil {
		return result, err
	}
	now := e.now()
	if result.Stale, err = e.ann.PruneEntries(ctx, func(a announcements.Entry) bool {
		return !IsFutureRelease(a.RemoteStatus, a.AiredOn, now, e.futureWindow)
	}); err != nil {
		return result, err
	}
	if result.Total() > 0 {
		e.logger.Info("announcements cleaned up",
			logging.Int("orphaned", result.Orphaned),
			logging.Int("in_library", result.InLibrary),
			logging.Int("stale", result.Stale),
		)
	}
	return result, nil
}
