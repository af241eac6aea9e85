package reconcile

import (
	"context"
	"fmt"

	"tsundoku/internal/catalog"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/services"
)

// RefreshEntry re-reads one title from the catalog and applies the same
// rules as a run. Unlike a run, a catalog failure is returned to the caller
// after being recorded on the entry.
func (e *Engine) RefreshEntry(ctx context.Context, id int64) (library.Entry, Outcome, error) {
	if !e.lib.Has(id) {
		return library.Entry{}, "", services.Wrap(services.ErrNotFound, engineName, "refresh", fmt.Sprintf("title %d not in library", id), nil)
	}
	details, fetchErr := e.fetch(ctx, id)
	now := e.now()
	var outcome Outcome
	entry, ok, err := e.lib.Update(ctx, id, func(entry *library.Entry) bool {
		if fetchErr != nil {
			recordFailure(entry, fetchErr, now)
			outcome = OutcomeErrored
			return true
		}
		outcome = applyDetails(entry, details, now)
		return outcome != OutcomeUnchanged
	})
	if err != nil {
		return library.Entry{}, "", err
	}
	if !ok {
		return library.Entry{}, OutcomeSkipped, nil
	}
	if fetchErr != nil {
		return entry, outcome, fetchErr
	}
	return entry, outcome, nil
}

// RefreshDurations fills in the episode runtime of up to limit completed
// titles that have none stored. It returns how many titles were updated.
func (e *Engine) RefreshDurations(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultDurationRuns
	}
	var ids []int64
	for _, entry := range e.lib.ByStatus(library.StatusCompleted) {
		if entry.EpisodeDurationMinutes == 0 {
			ids = append(ids, entry.ID)
		}
		if len(ids) == limit {
			break
		}
	}
	return e.maintain(ctx, "refresh_durations", ids, func(entry *library.Entry, d *catalog.Details) bool {
		if entry.EpisodeDurationMinutes > 0 || d.DurationMinutes <= 0 {
			return false
		}
		entry.EpisodeDurationMinutes = d.DurationMinutes
		return true
	})
}

// RestoreMissingPosters adopts catalog artwork for up to limit titles that
// show the placeholder and carry no user override.
func (e *Engine) RestoreMissingPosters(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPosterRuns
	}
	var ids []int64
	for _, entry := range e.lib.All() {
		if entry.NeedsPoster() {
			ids = append(ids, entry.ID)
		}
		if len(ids) == limit {
			break
		}
	}
	return e.maintain(ctx, "restore_posters", ids, func(entry *library.Entry, d *catalog.Details) bool {
		if !entry.NeedsPoster() || catalog.IsMissingPoster(d.PosterURL) {
			return false
		}
		entry.PosterURL = d.PosterURL
		return true
	})
}

// maintain fetches details for ids one at a time and applies fn. Failures
// are logged and skipped.
func (e *Engine) maintain(ctx context.Context, op string, ids []int64, fn func(*library.Entry, *catalog.Details) bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !e.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	ctx = services.WithEngine(ctx, engineName)
	updated := 0
	for _, id := range ids {
		details, err := e.fetch(ctx, id)
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		if err != nil {
			logger := logging.WithContext(services.WithTitleID(ctx, id), e.logger)
			logging.WarnWithContext(logger, "title refresh failed", op+"_failed",
				logging.String(logging.FieldOp, op),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, hintFor(err)),
			)
			continue
		}
		changed := false
		if _, _, err := e.lib.Update(ctx, id, func(entry *library.Entry) bool {
			changed = fn(entry, details)
			return changed
		}); err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	e.logger.Info("library maintenance finished",
		logging.String(logging.FieldOp, op),
		logging.Int("candidates", len(ids)),
		logging.Int("updated", updated),
	)
	return updated, nil
}
