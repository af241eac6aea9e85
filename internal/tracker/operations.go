package tracker

import (
	"context"
	"fmt"
	"strings"

	"tsundoku/internal/announcements"
	"tsundoku/internal/catalog"
	"tsundoku/internal/discovery"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/reconcile"
	"tsundoku/internal/reqcache"
	"tsundoku/internal/services"
)

// SearchResult is a catalog hit annotated with where the title already is.
type SearchResult struct {
	catalog.Summary
	InLibrary bool           `json:"inLibrary"`
	Status    library.Status `json:"libraryStatus,omitempty"`
	Announced bool           `json:"announced"`
}

// Search queries the catalog. Short queries return no results.
func (t *Tracker) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	hits, err := t.catalog.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{Summary: hit, Announced: t.ann.Contains(hit.ID)}
		if entry, ok := t.library.Get(hit.ID); ok {
			results[i].InLibrary = true
			results[i].Status = entry.Status
		}
	}
	return results, nil
}

// Add puts a title into the library with status. A title that is currently
// announced is promoted so it never sits in both places. poster, when set,
// becomes the custom poster override.
func (t *Tracker) Add(ctx context.Context, id int64, status library.Status, poster string) (library.Entry, error) {
	if status == "" {
		status = library.StatusPlanned
	}
	if _, ok := library.ParseStatus(string(status)); !ok {
		return library.Entry{}, services.Wrap(services.ErrValidation, "tracker", "add", fmt.Sprintf("unknown status %q", status), nil)
	}
	poster = strings.TrimSpace(poster)

	if t.ann.Contains(id) {
		return t.addAnnounced(ctx, id, status, poster)
	}

	details, err := t.catalog.Details(ctx, id)
	if err != nil {
		return library.Entry{}, err
	}
	var (
		entry     library.Entry
		announced bool
	)
	err = t.discovery.Exclusive(func() error {
		// Discovery may have announced id while its details were fetched.
		if t.ann.Contains(id) {
			announced = true
			return nil
		}
		draft := library.DraftFromDetails(details, status)
		draft.ID = id
		draft.CustomPosterURL = poster
		if existing, ok := t.library.Get(id); ok {
			draft.PosterURL = existing.PosterURL
			draft.CurrentEpisode = existing.CurrentEpisode
		}
		var err error
		entry, err = t.library.Upsert(ctx, draft)
		return err
	})
	if announced {
		return t.addAnnounced(ctx, id, status, poster)
	}
	return entry, err
}

// addAnnounced promotes an announced title, then applies the requested
// poster and status.
func (t *Tracker) addAnnounced(ctx context.Context, id int64, status library.Status, poster string) (library.Entry, error) {
	entry, err := t.discovery.Promote(ctx, id)
	if err != nil {
		return library.Entry{}, err
	}
	if poster != "" {
		if entry, err = t.library.SetPoster(ctx, id, poster); err != nil {
			return entry, err
		}
	}
	if entry.Status != status {
		return t.library.SetStatus(ctx, id, status)
	}
	return entry, nil
}

// Get returns one library entry.
func (t *Tracker) Get(id int64) (library.Entry, bool) {
	return t.library.Get(id)
}

// List returns library entries, optionally filtered by status.
func (t *Tracker) List(status library.Status) ([]library.Entry, error) {
	if status == "" {
		return t.library.All(), nil
	}
	parsed, ok := library.ParseStatus(string(status))
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "tracker", "list", fmt.Sprintf("unknown status %q", status), nil)
	}
	return t.library.ByStatus(parsed), nil
}

// SetStatus changes a title's status on behalf of the user.
func (t *Tracker) SetStatus(ctx context.Context, id int64, status library.Status) (library.Entry, error) {
	return t.library.SetStatus(ctx, id, status)
}

// UpdateProgress records the last watched episode.
func (t *Tracker) UpdateProgress(ctx context.Context, id int64, episode int) (library.Entry, error) {
	return t.library.UpdateProgress(ctx, id, episode)
}

// SetPoster sets or clears the poster override of a library title, or of an
// announcement when the id is announced instead.
func (t *Tracker) SetPoster(ctx context.Context, id int64, poster string) (library.Entry, error) {
	if !t.library.Has(id) && t.ann.Contains(id) {
		if _, err := t.ann.SetCustomPoster(ctx, id, poster); err != nil {
			return library.Entry{}, err
		}
		return library.Entry{}, nil
	}
	return t.library.SetPoster(ctx, id, poster)
}

// Remove deletes a title and every announcement discovered from it. It
// reports whether the title was tracked.
func (t *Tracker) Remove(ctx context.Context, id int64) (bool, error) {
	removed, err := t.library.Remove(ctx, id)
	if err != nil || !removed {
		return removed, err
	}
	if _, err := t.ann.RemoveGroup(ctx, id); err != nil {
		logging.WarnWithContext(t.logger, "announcements of removed title kept", "announcements_cascade_failed",
			logging.Int64(logging.FieldTitleID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the group is pruned by the next discovery cleanup"),
		)
	}
	return true, nil
}

// ReadyToWatch lists planned titles that have finished airing.
func (t *Tracker) ReadyToWatch() []library.Entry { return t.library.ReadyToWatch() }

// WaitingForEpisodes lists planned titles still airing.
func (t *Tracker) WaitingForEpisodes() []library.Entry { return t.library.WaitingForEpisodes() }

// Stats returns watch-time statistics.
func (t *Tracker) Stats() library.WatchStats { return t.library.Stats() }

// Groups returns the announcement groups.
func (t *Tracker) Groups() []announcements.Group { return t.ann.Groups() }

// Promote moves an announcement into the library as a planned title.
func (t *Tracker) Promote(ctx context.Context, id int64) (library.Entry, error) {
	return t.discovery.Promote(ctx, id)
}

// DismissAnnouncement removes an announcement without promoting it.
func (t *Tracker) DismissAnnouncement(ctx context.Context, id int64) (bool, error) {
	return t.ann.Remove(ctx, id)
}

// Reconcile runs status reconciliation once. A library snapshot is taken
// first.
func (t *Tracker) Reconcile(ctx context.Context) (reconcile.Summary, error) {
	if err := t.TakeSnapshot(ctx, "before status check"); err != nil {
		logging.WarnWithContext(t.logger, "library snapshot skipped", "snapshot_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no restore point for this run"),
		)
	}
	summary, err := t.reconcile.Run(ctx)
	t.persistJournalQuietly(ctx)
	return summary, err
}

// RefreshEntry re-checks one title immediately.
func (t *Tracker) RefreshEntry(ctx context.Context, id int64) (library.Entry, reconcile.Outcome, error) {
	return t.reconcile.RefreshEntry(ctx, id)
}

// RefreshDurations fills missing episode durations of completed titles.
func (t *Tracker) RefreshDurations(ctx context.Context, limit int) (int, error) {
	return t.reconcile.RefreshDurations(ctx, limit)
}

// RestoreMissingPosters adopts catalog artwork for titles with placeholders.
func (t *Tracker) RestoreMissingPosters(ctx context.Context, limit int) (int, error) {
	return t.reconcile.RestoreMissingPosters(ctx, limit)
}

// Discover runs announcement discovery for every completed title.
func (t *Tracker) Discover(ctx context.Context) (discovery.Summary, error) {
	summary, err := t.discovery.Run(ctx)
	t.persistJournalQuietly(ctx)
	return summary, err
}

// DiscoverOne runs announcement discovery for one completed title.
func (t *Tracker) DiscoverOne(ctx context.Context, id int64) (discovery.Summary, error) {
	return t.discovery.RunOne(ctx, id)
}

// Cleanup prunes orphaned, tracked and stale announcements.
func (t *Tracker) Cleanup(ctx context.Context) (discovery.CleanupResult, error) {
	return t.discovery.Cleanup(ctx)
}

// ResetDiscoveryChecks forgets when titles were last checked so the next
// discovery run checks all of them.
func (t *Tracker) ResetDiscoveryChecks(ctx context.Context) {
	t.ann.ResetChecks(ctx)
}

// CacheStats reports request cache statistics.
func (t *Tracker) CacheStats(ctx context.Context) (reqcache.Stats, error) {
	if t.cache == nil {
		return reqcache.Stats{}, nil
	}
	return t.cache.Stats(ctx)
}

// ClearCache empties the request cache for scope.
func (t *Tracker) ClearCache(ctx context.Context, scope reqcache.Scope) error {
	if t.cache == nil {
		return nil
	}
	return t.cache.Clear(ctx, scope)
}

// SweepCache removes expired persistent cache entries now.
func (t *Tracker) SweepCache(ctx context.Context) (int, error) {
	if t.cache == nil {
		return 0, nil
	}
	return t.cache.Sweep(ctx)
}

func (t *Tracker) persistJournalQuietly(ctx context.Context) {
	if err := t.persistJournal(context.WithoutCancel(ctx)); err != nil {
		logging.WarnWithContext(t.logger, "error journal not saved", "journal_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "errors from this run are lost on exit"),
		)
	}
}
