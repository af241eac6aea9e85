package library

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"tsundoku/internal/events"
	"tsundoku/internal/logging"
	"tsundoku/internal/services"
	"tsundoku/internal/storage"
)

const (
	storageKey = "library"
	createdKey = "library_created"
)

// Options configures a Library.
type Options struct {
	Bus *events.Bus
	// Reclaimer frees space when a write hits the storage quota.
	Reclaimer storage.Reclaimer
	// SiteURL resolves relative poster paths.
	SiteURL string
	Now     func() time.Time
	Logger  *slog.Logger
}

// Library is the in-memory, write-through view of the tracked titles.
type Library struct {
	store     storage.Store
	bus       *events.Bus
	reclaimer storage.Reclaimer
	siteURL   string
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[int64]Entry
	created time.Time
}

// Mutation edits an entry in place and reports whether anything changed.
type Mutation func(*Entry) bool

type undo struct {
	entry   Entry
	existed bool
}

// Open loads the library from store.
func Open(ctx context.Context, store storage.Store, opts Options) (*Library, error) {
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "library", "open", "store is required", nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Library{
		store:     store,
		bus:       opts.Bus,
		reclaimer: opts.Reclaimer,
		siteURL:   opts.SiteURL,
		now:       now,
		logger:    logging.NewComponentLogger(opts.Logger, "library"),
		entries:   make(map[int64]Entry),
	}
	if _, err := store.Get(ctx, storageKey, &l.entries); err != nil {
		return nil, services.Wrap(services.ErrStorage, "library", "load", "", err)
	}
	if l.entries == nil {
		l.entries = make(map[int64]Entry)
	}
	for id, e := range l.entries {
		if e.ID == 0 {
			e.ID = id
			l.entries[id] = e
		}
	}
	if _, err := store.Get(ctx, createdKey, &l.created); err != nil {
		l.logger.Debug("library creation time unreadable", logging.Error(err))
	}
	l.logger.Debug("library loaded", logging.Int("entries", len(l.entries)))
	return l, nil
}

// Len returns the number of tracked titles.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Created returns when the first title was added, or the zero time.
func (l *Library) Created() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.created
}

// Get returns a copy of the entry with id.
func (l *Library) Get(id int64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

// Has reports whether id is tracked.
func (l *Library) Has(id int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// All returns copies of every entry ordered by AddedAt, then id.
func (l *Library) All() []Entry {
	return l.filter(func(Entry) bool { return true })
}

// ByStatus returns the entries with status.
func (l *Library) ByStatus(status Status) []Entry {
	return l.filter(func(e Entry) bool { return e.Status == status })
}

// Snapshot returns a copy of the whole map, used for backups.
func (l *Library) Snapshot() map[int64]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int64]Entry, len(l.entries))
	for id, e := range l.entries {
		out[id] = e.Clone()
	}
	return out
}

func (l *Library) filter(keep func(Entry) bool) []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	l.mu.RUnlock()
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].AddedAt.Before(entries[j].AddedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// Upsert inserts or replaces an entry. The poster is resolved by provenance
// priority, history is preserved, and a status change is recorded. Upserting
// a completed entry publishes discovery.requested for it.
func (l *Library) Upsert(ctx context.Context, d Draft) (Entry, error) {
	if d.ID <= 0 {
		return Entry{}, validationError("upsert", fmt.Sprintf("invalid title id %d", d.ID))
	}
	if strings.TrimSpace(d.Title) == "" {
		return Entry{}, validationError("upsert", "title is required")
	}
	if err := validateEpisode(d.CurrentEpisode, d.EpisodesTotal); err != nil {
		return Entry{}, err
	}

	now := l.now()
	l.mu.Lock()
	existing, existed := l.entries[d.ID]
	status := d.Status
	if status == "" {
		status = StatusPlanned
		if existed {
			status = existing.Status
		}
	}
	status, ok := ParseStatus(string(status))
	if !ok {
		l.mu.Unlock()
		return Entry{}, validationError("upsert", fmt.Sprintf("unknown status %q", d.Status))
	}

	var prev *Entry
	if existed {
		cp := existing.Clone()
		prev = &cp
	}
	entry := d.Entry.Clone()
	entry.Status = status
	entry.PosterURL, entry.PosterIsCustomOverride = resolvePoster(l.siteURL, prev, d)
	entry.UpdatedAt = now
	if existed {
		entry.AddedAt = existing.AddedAt
		entry.History = slices.Clone(existing.History)
		if entry.Origin == nil && existing.Origin != nil {
			cp := *existing.Origin
			entry.Origin = &cp
		}
		if entry.LastStatusCheckAt.IsZero() {
			entry.LastStatusCheckAt = existing.LastStatusCheckAt
		}
		if entry.EpisodeDurationMinutes == 0 {
			entry.EpisodeDurationMinutes = existing.EpisodeDurationMinutes
		}
		if existing.Status != status {
			entry.AppendHistory(existing.Status, status, ReasonUserEdit, false, now)
		}
	} else if entry.AddedAt.IsZero() {
		entry.AddedAt = now
	}

	l.entries[entry.ID] = entry
	if err := l.persistLocked(ctx, "upsert", map[int64]undo{entry.ID: {entry: existing, existed: existed}}); err != nil {
		l.mu.Unlock()
		return Entry{}, err
	}
	firstWrite := l.created.IsZero()
	if firstWrite {
		l.created = now
	}
	l.mu.Unlock()

	if firstWrite {
		if err := l.store.Set(ctx, createdKey, now); err != nil {
			logging.WarnWithContext(l.logger, "library creation time not saved", "library_created_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "statistics show an unknown start date"))
		}
	}

	l.bus.Publish(ctx, events.Event{Kind: events.LibraryUpserted, TitleID: entry.ID, Status: string(entry.Status)})
	if existed && existing.Status != status {
		l.bus.Publish(ctx, events.Event{Kind: events.LibraryStatusChanged, TitleID: entry.ID, Status: string(status), Reason: ReasonUserEdit})
	}
	if status == StatusCompleted {
		l.bus.Publish(ctx, events.Event{Kind: events.DiscoveryRequested, TitleID: entry.ID})
	}
	return entry.Clone(), nil
}

// Remove deletes an entry. It reports whether the id was tracked.
func (l *Library) Remove(ctx context.Context, id int64) (bool, error) {
	l.mu.Lock()
	existing, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return false, nil
	}
	delete(l.entries, id)
	if err := l.persistLocked(ctx, "remove", map[int64]undo{id: {entry: existing, existed: true}}); err != nil {
		l.mu.Unlock()
		return false, err
	}
	l.mu.Unlock()
	l.bus.Publish(ctx, events.Event{Kind: events.LibraryRemoved, TitleID: id})
	return true, nil
}

// SetStatus applies a user-initiated status change.
func (l *Library) SetStatus(ctx context.Context, id int64, status Status) (Entry, error) {
	parsed, ok := ParseStatus(string(status))
	if !ok {
		return Entry{}, validationError("set_status", fmt.Sprintf("unknown status %q", status))
	}
	var from Status
	entry, err := l.edit(ctx, "set_status", id, func(e *Entry, now time.Time) (bool, error) {
		if e.Status == parsed {
			return false, nil
		}
		from = e.Status
		e.AppendHistory(e.Status, parsed, ReasonUserEdit, false, now)
		e.Status = parsed
		return true, nil
	})
	if err != nil || from == "" {
		return entry, err
	}
	l.bus.Publish(ctx, events.Event{Kind: events.LibraryStatusChanged, TitleID: id, Status: string(parsed), Reason: ReasonUserEdit})
	if parsed == StatusCompleted {
		l.bus.Publish(ctx, events.Event{Kind: events.DiscoveryRequested, TitleID: id})
	}
	return entry, nil
}

// UpdateProgress records the last watched episode. It never changes status.
func (l *Library) UpdateProgress(ctx context.Context, id int64, episode int) (Entry, error) {
	return l.edit(ctx, "update_progress", id, func(e *Entry, _ time.Time) (bool, error) {
		if err := validateEpisode(episode, e.EpisodesTotal); err != nil {
			return false, err
		}
		if e.CurrentEpisode == episode {
			return false, nil
		}
		e.CurrentEpisode = episode
		return true, nil
	})
}

// SetPoster sets a user poster override. An empty url clears the override
// and falls back to the placeholder until artwork is restored.
func (l *Library) SetPoster(ctx context.Context, id int64, poster string) (Entry, error) {
	poster = strings.TrimSpace(poster)
	if poster != "" {
		if _, err := url.Parse(poster); err != nil {
			return Entry{}, validationError("set_poster", fmt.Sprintf("invalid poster url %q", poster))
		}
		poster = normalizePoster(l.siteURL, poster)
		if isPlaceholder(poster) {
			return Entry{}, validationError("set_poster", "poster url points at missing artwork")
		}
	}
	return l.edit(ctx, "set_poster", id, func(e *Entry, _ time.Time) (bool, error) {
		if poster == "" {
			e.PosterURL = PlaceholderPoster
			e.PosterIsCustomOverride = false
			return true, nil
		}
		e.PosterURL = poster
		e.PosterIsCustomOverride = true
		return true, nil
	})
}

// edit applies a validated single-entry user edit and persists it.
func (l *Library) edit(ctx context.Context, op string, id int64, fn func(*Entry, time.Time) (bool, error)) (Entry, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.entries[id]
	if !ok {
		return Entry{}, services.Wrap(services.ErrNotFound, "library", op, fmt.Sprintf("title %d not in library", id), nil)
	}
	entry := existing.Clone()
	changed, err := fn(&entry, now)
	if err != nil {
		return Entry{}, err
	}
	if !changed {
		return existing.Clone(), nil
	}
	entry.ID = id
	entry.UpdatedAt = now
	l.entries[id] = entry
	if err := l.persistLocked(ctx, op, map[int64]undo{id: {entry: existing, existed: true}}); err != nil {
		return Entry{}, err
	}
	return entry.Clone(), nil
}

// Apply runs automated mutations and persists them with a single write. Ids
// that are no longer tracked are skipped without error. It returns the ids
// whose entries changed, in ascending order.
func (l *Library) Apply(ctx context.Context, mutations map[int64]Mutation) ([]int64, error) {
	if len(mutations) == 0 {
		return nil, nil
	}
	now := l.now()
	type transition struct {
		id     int64
		status Status
		reason string
	}
	var (
		changed     []int64
		transitions []transition
		saved       = make(map[int64]undo)
	)

	l.mu.Lock()
	for id, fn := range mutations {
		existing, ok := l.entries[id]
		if !ok || fn == nil {
			continue
		}
		entry := existing.Clone()
		if !fn(&entry) {
			continue
		}
		entry.ID = id
		entry.UpdatedAt = now
		l.entries[id] = entry
		saved[id] = undo{entry: existing, existed: true}
		changed = append(changed, id)
		if entry.Status != existing.Status {
			reason := ""
			if n := len(entry.History); n > 0 {
				reason = entry.History[n-1].Reason
			}
			transitions = append(transitions, transition{id: id, status: entry.Status, reason: reason})
		}
	}
	if len(changed) == 0 {
		l.mu.Unlock()
		return nil, nil
	}
	if err := l.persistLocked(ctx, "apply", saved); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	slices.Sort(changed)
	sort.Slice(transitions, func(i, j int) bool { return transitions[i].id < transitions[j].id })
	for _, t := range transitions {
		l.bus.Publish(ctx, events.Event{Kind: events.LibraryStatusChanged, TitleID: t.id, Status: string(t.status), Reason: t.reason})
	}
	return changed, nil
}

// Update applies one automated mutation. The boolean reports whether the id
// is still tracked.
func (l *Library) Update(ctx context.Context, id int64, fn Mutation) (Entry, bool, error) {
	if _, err := l.Apply(ctx, map[int64]Mutation{id: fn}); err != nil {
		return Entry{}, true, err
	}
	entry, ok := l.Get(id)
	return entry, ok, nil
}

// Replace swaps the whole library for entries, used by backup restore.
func (l *Library) Replace(ctx context.Context, entries map[int64]Entry) error {
	next := make(map[int64]Entry, len(entries))
	for id, e := range entries {
		e = e.Clone()
		e.ID = id
		next[id] = e
	}
	l.mu.Lock()
	prev := l.entries
	l.entries = next
	if err := storage.SetWithReclaim(ctx, l.store, storageKey, l.entries, l.reclaimer); err != nil {
		l.entries = prev
		l.mu.Unlock()
		return services.Wrap(services.ErrStorage, "library", "replace", "", err)
	}
	l.mu.Unlock()
	l.bus.Publish(ctx, events.Event{Kind: events.LibraryUpserted, Reason: "library replaced"})
	return nil
}

// Merge adds entries that are not tracked and replaces tracked ones when the
// incoming copy was updated more recently. It returns how many entries were
// written.
func (l *Library) Merge(ctx context.Context, entries map[int64]Entry) (int, error) {
	saved := make(map[int64]undo)
	l.mu.Lock()
	for id, incoming := range entries {
		existing, ok := l.entries[id]
		if ok && !incoming.UpdatedAt.After(existing.UpdatedAt) {
			continue
		}
		incoming = incoming.Clone()
		incoming.ID = id
		l.entries[id] = incoming
		saved[id] = undo{entry: existing, existed: ok}
	}
	if len(saved) == 0 {
		l.mu.Unlock()
		return 0, nil
	}
	if err := l.persistLocked(ctx, "merge", saved); err != nil {
		l.mu.Unlock()
		return 0, err
	}
	l.mu.Unlock()
	l.bus.Publish(ctx, events.Event{Kind: events.LibraryUpserted, Reason: "library merged"})
	return len(saved), nil
}

// persistLocked writes the full map, rolling back the touched ids on failure.
func (l *Library) persistLocked(ctx context.Context, op string, touched map[int64]undo) error {
	err := storage.SetWithReclaim(ctx, l.store, storageKey, l.entries, l.reclaimer)
	if err == nil {
		return nil
	}
	for id, u := range touched {
		if u.existed {
			l.entries[id] = u.entry
		} else {
			delete(l.entries, id)
		}
	}
	logging.ErrorWithContext(l.logger, "library write failed", "library_write_failed",
		logging.String(logging.FieldOp, op),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "free disk space or check the storage backend"),
	)
	return services.Wrap(services.ErrStorage, "library", op, "persist library", err)
}

func validateEpisode(episode, total int) error {
	if episode < 0 {
		return validationError("update_progress", fmt.Sprintf("episode %d is negative", episode))
	}
	if total > 0 && episode > total {
		return validationError("update_progress", fmt.Sprintf("episode %d exceeds total %d", episode, total))
	}
	return nil
}

func validationError(op, msg string) error {
	return services.Wrap(services.ErrValidation, "library", op, msg, nil)
}
