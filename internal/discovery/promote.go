package discovery

import (
	"context"
	"fmt"

	"tsundoku/internal/catalog"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/services"
)

// Promote moves the announcement with id into the library as a planned
// title. A custom poster set on the announcement becomes the entry's poster
// override. When the library write fails the announcement is restored and
// the error returned.
func (e *Engine) Promote(ctx context.Context, id int64) (library.Entry, error) {
	if _, _, ok := e.ann.Find(id); !ok {
		return library.Entry{}, services.Wrap(services.ErrNotFound, engineName, "promote", fmt.Sprintf("announcement %d not found", id), nil)
	}
	var details *catalog.Details
	err := e.pacer.Do(services.WithTitleID(ctx, id), func(ctx context.Context) error {
		var err error
		details, err = e.catalog.Details(ctx, id)
		return err
	})
	if err != nil {
		return library.Entry{}, err
	}

	e.commit.Lock()
	defer e.commit.Unlock()

	taken, found, err := e.ann.Take(ctx, id)
	if err != nil {
		return library.Entry{}, err
	}
	if !found {
		return library.Entry{}, services.Wrap(services.ErrNotFound, engineName, "promote", fmt.Sprintf("announcement %d was removed meanwhile", id), nil)
	}
	if existing, ok := e.lib.Get(id); ok {
		// Already added by hand; the announcement was stale.
		return existing, nil
	}

	now := e.now()
	draft := library.DraftFromDetails(details, library.StatusPlanned)
	draft.ID = id
	draft.CustomPosterURL = taken.Entry.CustomPosterURL
	if draft.Title == "" {
		draft.Title = taken.Entry.Title
	}
	draft.Origin = &library.Origin{
		FromAnnouncement: true,
		SourceTitleID:    taken.OriginID,
		RelationKind:     taken.Entry.RelationKind,
	}
	draft.AppendHistory("", library.StatusPlanned, library.ReasonPromoted, false, now)

	entry, err := e.lib.Upsert(ctx, draft)
	if err != nil {
		if restoreErr := e.ann.Restore(context.WithoutCancel(ctx), taken); restoreErr != nil {
			logging.ErrorWithContext(e.logger, "announcement lost after failed promotion", "promotion_restore_failed",
				logging.Int64(logging.FieldTitleID, id),
				logging.Error(restoreErr),
				logging.String(logging.FieldImpact, "the title is in neither the library nor the announcements"),
				logging.String(logging.FieldErrorHint, "run discovery again to rediscover it"),
			)
		}
		return library.Entry{}, err
	}
	e.logger.Info("announcement promoted",
		logging.Int64(logging.FieldTitleID, id),
		logging.Int64("origin_id", taken.OriginID),
		logging.String(logging.FieldEventType, "announcement_promoted"),
	)
	return entry, nil
}
