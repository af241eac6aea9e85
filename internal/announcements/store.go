package announcements

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
	groupsKey = "announcements"
	checksKey = "announcement_checks"
)

var posterExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp"}

// Options configures a Store.
type Options struct {
	Bus       *events.Bus
	Reclaimer storage.Reclaimer
	Now       func() time.Time
	Logger    *slog.Logger
}

// Store holds announcement groups and discovery check records.
type Store struct {
	store     storage.Store
	bus       *events.Bus
	reclaimer storage.Reclaimer
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.RWMutex
	groups map[int64]Group
	checks map[int64]CheckRecord
}

// Open loads announcements and check records from store.
func Open(ctx context.Context, store storage.Store, opts Options) (*Store, error) {
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "announcements", "open", "store is required", nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		store:     store,
		bus:       opts.Bus,
		reclaimer: opts.Reclaimer,
		now:       now,
		logger:    logging.NewComponentLogger(opts.Logger, "announcements"),
	}
	groups, err := storage.GetOr(ctx, store, groupsKey, map[int64]Group{})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "announcements", "load", "", err)
	}
	checks, err := storage.GetOr(ctx, store, checksKey, map[int64]CheckRecord{})
	if err != nil {
		logging.WarnWithContext(s.logger, "announcement check records unreadable", "announcement_checks_reset",
			logging.Error(err),
			logging.String(logging.FieldImpact, "every completed title is checked again on the next run"))
		checks = map[int64]CheckRecord{}
	}
	if groups == nil {
		groups = map[int64]Group{}
	}
	if checks == nil {
		checks = map[int64]CheckRecord{}
	}
	for id, g := range groups {
		g.OriginID = id
		groups[id] = g
	}
	s.groups = groups
	s.checks = checks
	return s, nil
}

// Groups returns copies of every group ordered by origin id.
func (s *Store) Groups() []Group {
	s.mu.RLock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OriginID < out[j].OriginID })
	return out
}

// Group returns the group for originID.
func (s *Store) Group(originID int64) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[originID]
	if !ok {
		return Group{}, false
	}
	return g.clone(), true
}

// Len returns the number of announcements across all groups.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, g := range s.groups {
		n += len(g.Announcements)
	}
	return n
}

// Find locates an announcement by its own id.
func (s *Store) Find(id int64) (int64, Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for originID, g := range s.groups {
		if i := g.index(id); i >= 0 {
			return originID, g.Announcements[i].clone(), true
		}
	}
	return 0, Entry{}, false
}

// Contains reports whether id is announced in any group.
func (s *Store) Contains(id int64) bool {
	_, _, ok := s.Find(id)
	return ok
}

// Snapshot returns a copy of all groups keyed by origin id.
func (s *Store) Snapshot() map[int64]Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]Group, len(s.groups))
	for id, g := range s.groups {
		out[id] = g.clone()
	}
	return out
}

// Append adds entries to the group for originID, creating it when needed.
// Entries whose id is already announced anywhere, or repeated within
// entries, are skipped. It returns the entries actually added.
func (s *Store) Append(ctx context.Context, originID int64, originalTitle string, entries []Entry) ([]Entry, error) {
	now := s.now()
	s.mu.Lock()
	prev, existed := s.groups[originID]
	group := prev.clone()
	if !existed {
		group = Group{OriginID: originID, OriginalTitle: originalTitle}
	}
	if originalTitle != "" {
		group.OriginalTitle = originalTitle
	}

	var added []Entry
	for _, e := range entries {
		if e.ID <= 0 || s.containsLocked(e.ID) || group.index(e.ID) >= 0 {
			continue
		}
		if e.AddedAt.IsZero() {
			e.AddedAt = now
		}
		group.Announcements = append(group.Announcements, e.clone())
		added = append(added, e.clone())
	}
	if len(added) == 0 && !existed {
		s.mu.Unlock()
		return nil, nil
	}
	group.LastCheckedAt = now
	s.groups[originID] = group
	if err := s.persistGroupsLocked(ctx, "append"); err != nil {
		if existed {
			s.groups[originID] = prev
		} else {
			delete(s.groups, originID)
		}
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if len(added) > 0 {
		s.publish(ctx, originID, fmt.Sprintf("%d announcements added", len(added)))
	}
	return added, nil
}

func (s *Store) containsLocked(id int64) bool {
	for _, g := range s.groups {
		if g.index(id) >= 0 {
			return true
		}
	}
	return false
}

// Take removes the announcement with id and persists the change. A group
// left empty is deleted. The returned Taken restores the announcement when
// passed to Restore.
func (s *Store) Take(ctx context.Context, id int64) (Taken, bool, error) {
	s.mu.Lock()
	var (
		taken Taken
		found bool
	)
	for originID, g := range s.groups {
		i := g.index(id)
		if i < 0 {
			continue
		}
		found = true
		taken = Taken{
			OriginID:      originID,
			OriginalTitle: g.OriginalTitle,
			Position:      i,
			Entry:         g.Announcements[i].clone(),
			lastCheckedAt: g.LastCheckedAt,
		}
		prev := g.clone()
		g.Announcements = slices.Delete(g.Announcements, i, i+1)
		if len(g.Announcements) == 0 {
			delete(s.groups, originID)
		} else {
			g.LastCheckedAt = s.now()
			s.groups[originID] = g
		}
		if err := s.persistGroupsLocked(ctx, "take"); err != nil {
			s.groups[originID] = prev
			s.mu.Unlock()
			return Taken{}, false, err
		}
		break
	}
	s.mu.Unlock()
	if found {
		s.publish(ctx, taken.OriginID, "announcement removed")
	}
	return taken, found, nil
}

// Restore puts back an announcement removed by Take at its old position.
// Nothing happens when the id has been announced again meanwhile.
func (s *Store) Restore(ctx context.Context, t Taken) error {
	s.mu.Lock()
	if s.containsLocked(t.Entry.ID) {
		s.mu.Unlock()
		return nil
	}
	prev, existed := s.groups[t.OriginID]
	g := prev.clone()
	if !existed {
		g = Group{OriginID: t.OriginID, OriginalTitle: t.OriginalTitle, LastCheckedAt: t.lastCheckedAt}
	}
	pos := min(max(t.Position, 0), len(g.Announcements))
	g.Announcements = slices.Insert(g.Announcements, pos, t.Entry.clone())
	s.groups[t.OriginID] = g
	if err := s.persistGroupsLocked(ctx, "restore"); err != nil {
		if existed {
			s.groups[t.OriginID] = prev
		} else {
			delete(s.groups, t.OriginID)
		}
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.publish(ctx, t.OriginID, "announcement restored")
	return nil
}

// Remove deletes the announcement with id. It reports whether it existed.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	_, found, err := s.Take(ctx, id)
	return found, err
}

// RemoveGroup deletes the group for originID and forgets its check record.
func (s *Store) RemoveGroup(ctx context.Context, originID int64) (bool, error) {
	s.mu.Lock()
	prev, ok := s.groups[originID]
	_, checked := s.checks[originID]
	if !ok && !checked {
		s.mu.Unlock()
		return false, nil
	}
	if ok {
		delete(s.groups, originID)
		if err := s.persistGroupsLocked(ctx, "remove_group"); err != nil {
			s.groups[originID] = prev
			s.mu.Unlock()
			return false, err
		}
	}
	if checked {
		delete(s.checks, originID)
		s.persistChecksLocked(ctx)
	}
	s.mu.Unlock()
	if ok {
		s.publish(ctx, originID, "group removed")
	}
	return ok, nil
}

// PruneOrphans deletes every group whose origin is no longer tracked.
func (s *Store) PruneOrphans(ctx context.Context, tracked func(int64) bool) (int, error) {
	return s.prune(ctx, "prune_orphans", func(originID int64, g *Group) int {
		if tracked(originID) {
			return 0
		}
		n := len(g.Announcements)
		g.Announcements = nil
		return max(n, 1)
	})
}

// PruneEntries deletes every announcement for which drop returns true and
// removes groups left empty. It returns the number of announcements dropped.
func (s *Store) PruneEntries(ctx context.Context, drop func(Entry) bool) (int, error) {
	return s.prune(ctx, "prune_entries", func(_ int64, g *Group) int {
		before := len(g.Announcements)
		g.Announcements = slices.DeleteFunc(g.Announcements, drop)
		return before - len(g.Announcements)
	})
}

func (s *Store) prune(ctx context.Context, op string, fn func(int64, *Group) int) (int, error) {
	s.mu.Lock()
	prev := make(map[int64]Group, len(s.groups))
	removed := 0
	for id, g := range s.groups {
		prev[id] = g
		next := g.clone()
		n := fn(id, &next)
		if n == 0 {
			continue
		}
		removed += n
		if len(next.Announcements) == 0 {
			delete(s.groups, id)
		} else {
			s.groups[id] = next
		}
	}
	if removed == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	if err := s.persistGroupsLocked(ctx, op); err != nil {
		s.groups = prev
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()
	s.publish(ctx, 0, fmt.Sprintf("%d announcements pruned", removed))
	return removed, nil
}

// SetCustomPoster overrides the poster of an announcement. The override is
// carried into the library when the announcement is promoted.
func (s *Store) SetCustomPoster(ctx context.Context, id int64, poster string) (Entry, error) {
	poster = strings.TrimSpace(poster)
	if poster != "" && !validPosterURL(poster) {
		return Entry{}, services.Wrap(services.ErrValidation, "announcements", "set_poster",
			fmt.Sprintf("%q is not an absolute image url", poster), nil)
	}
	s.mu.Lock()
	for originID, g := range s.groups {
		i := g.index(id)
		if i < 0 {
			continue
		}
		prev := g.clone()
		g.Announcements[i].CustomPosterURL = poster
		s.groups[originID] = g
		if err := s.persistGroupsLocked(ctx, "set_poster"); err != nil {
			s.groups[originID] = prev
			s.mu.Unlock()
			return Entry{}, err
		}
		entry := g.Announcements[i].clone()
		s.mu.Unlock()
		s.publish(ctx, originID, "poster changed")
		return entry, nil
	}
	s.mu.Unlock()
	return Entry{}, services.Wrap(services.ErrNotFound, "announcements", "set_poster",
		fmt.Sprintf("announcement %d not found", id), nil)
}

func validPosterURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	path := strings.ToLower(u.Path)
	return slices.ContainsFunc(posterExtensions, func(ext string) bool { return strings.HasSuffix(path, ext) })
}

// Replace swaps all groups for groups, used by backup restore.
func (s *Store) Replace(ctx context.Context, groups map[int64]Group) error {
	next := make(map[int64]Group, len(groups))
	for id, g := range groups {
		g = g.clone()
		g.OriginID = id
		next[id] = g
	}
	s.mu.Lock()
	prev := s.groups
	s.groups = next
	if err := s.persistGroupsLocked(ctx, "replace"); err != nil {
		s.groups = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.publish(ctx, 0, "announcements replaced")
	return nil
}

// Merge adds announcements from groups that are not yet announced anywhere.
// It returns the number of announcements added.
func (s *Store) Merge(ctx context.Context, groups map[int64]Group) (int, error) {
	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	s.mu.Lock()
	prev := make(map[int64]Group, len(s.groups))
	for id, g := range s.groups {
		prev[id] = g
	}
	added := 0
	for _, originID := range ids {
		incoming := groups[originID]
		g, ok := s.groups[originID]
		if ok {
			g = g.clone()
		} else {
			g = Group{OriginID: originID, OriginalTitle: incoming.OriginalTitle, LastCheckedAt: incoming.LastCheckedAt}
		}
		for _, e := range incoming.Announcements {
			if e.ID <= 0 || s.containsLocked(e.ID) || g.index(e.ID) >= 0 {
				continue
			}
			g.Announcements = append(g.Announcements, e.clone())
			added++
		}
		if len(g.Announcements) > 0 {
			s.groups[originID] = g
		}
	}
	if added == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	if err := s.persistGroupsLocked(ctx, "merge"); err != nil {
		s.groups = prev
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()
	s.publish(ctx, 0, "announcements merged")
	return added, nil
}

// Check returns the check record for a completed title.
func (s *Store) Check(id int64) (CheckRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.checks[id]
	return rec, ok
}

// Checks returns a copy of every check record.
func (s *Store) Checks() map[int64]CheckRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]CheckRecord, len(s.checks))
	for id, rec := range s.checks {
		out[id] = rec
	}
	return out
}

// RecordCheck stores the outcome of a discovery check. Check records are
// advisory: a failed write is logged and only costs an extra check later.
func (s *Store) RecordCheck(ctx context.Context, id int64, rec CheckRecord) {
	if rec.LastCheckedAt.IsZero() {
		rec.LastCheckedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[id] = rec
	if g, ok := s.groups[id]; ok {
		g.LastCheckedAt = rec.LastCheckedAt
		s.groups[id] = g
	}
	s.persistChecksLocked(ctx)
}

// ResetChecks forgets every check record so the next discovery run queries
// all completed titles.
func (s *Store) ResetChecks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = make(map[int64]CheckRecord)
	s.persistChecksLocked(ctx)
}

func (s *Store) persistChecksLocked(ctx context.Context) {
	if err := storage.SetWithReclaim(ctx, s.store, checksKey, s.checks, s.reclaimer); err != nil {
		logging.WarnWithContext(s.logger, "announcement check records not saved", "announcement_checks_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "titles may be checked again before the interval elapses"),
			logging.String(logging.FieldErrorHint, "free disk space or check the storage backend"))
	}
}

func (s *Store) persistGroupsLocked(ctx context.Context, op string) error {
	err := storage.SetWithReclaim(ctx, s.store, groupsKey, s.groups, s.reclaimer)
	if err == nil {
		return nil
	}
	logging.ErrorWithContext(s.logger, "announcement write failed", "announcements_write_failed",
		logging.String(logging.FieldOp, op),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "free disk space or check the storage backend"),
	)
	return services.Wrap(services.ErrStorage, "announcements", op, "persist announcements", err)
}

func (s *Store) publish(ctx context.Context, originID int64, reason string) {
	s.bus.Publish(ctx, events.Event{Kind: events.AnnouncementsChanged, TitleID: originID, Reason: reason})
}
