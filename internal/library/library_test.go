package library_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tsundoku/internal/events"
	"tsundoku/internal/library"
	"tsundoku/internal/services"
	"tsundoku/internal/storage"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func openLibrary(t *testing.T, store storage.Store, opts library.Options) (*library.Library, *clock) {
	t.Helper()
	clk := &clock{now: baseTime}
	if opts.Now == nil {
		opts.Now = clk.Now
	}
	if opts.SiteURL == "" {
		opts.SiteURL = "https://shikimori.one"
	}
	lib, err := library.Open(context.Background(), store, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return lib, clk
}

func draft(id int64, status library.Status) library.Draft {
	return library.Draft{Entry: library.Entry{ID: id, Title: "Title", Status: status, Kind: "tv", EpisodesTotal: 12}}
}

func TestCustomPosterSurvivesRemoteUpsert(t *testing.T) {
	ctx := context.Background()
	lib, _ := openLibrary(t, storage.NewMemory(0), library.Options{})

	if _, err := lib.Upsert(ctx, draft(1, library.StatusPlanned)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := lib.SetPoster(ctx, 1, "https://img.example.org/mine.png"); err != nil {
		t.Fatalf("SetPoster: %v", err)
	}
	d := draft(1, library.StatusPlanned)
	d.RemotePosterURL = "/system/animes/original/1.jpg"
	d.PosterURL = "https://shikimori.one/system/animes/original/1.jpg"
	entry, err := lib.Upsert(ctx, d)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if entry.PosterURL != "https://img.example.org/mine.png" || !entry.PosterIsCustomOverride {
		t.Fatalf("custom override lost: %q override=%v", entry.PosterURL, entry.PosterIsCustomOverride)
	}
}

func TestUpsertPosterFallbacks(t *testing.T) {
	ctx := context.Background()
	lib, _ := openLibrary(t, storage.NewMemory(0), library.Options{})

	d := draft(2, library.StatusPlanned)
	d.RemotePosterURL = "/assets/globals/missing_original.jpg"
	entry, err := lib.Upsert(ctx, d)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if entry.PosterURL != library.PlaceholderPoster {
		t.Fatalf("missing artwork should use placeholder, got %q", entry.PosterURL)
	}

	d.RemotePosterURL = "2.jpg"
	entry, err = lib.Upsert(ctx, d)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if entry.PosterURL != "https://shikimori.one/system/animes/original/2.jpg" || entry.PosterIsCustomOverride {
		t.Fatalf("remote artwork not adopted: %+v", entry)
	}

	d.RemotePosterURL = "/system/animes/original/2-new.jpg"
	entry, err = lib.Upsert(ctx, d)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if entry.PosterURL != "https://shikimori.one/system/animes/original/2.jpg" {
		t.Fatalf("stored poster should win over remote, got %q", entry.PosterURL)
	}

	d.CustomPosterURL = "https://img.example.org/custom.jpg"
	entry, err = lib.Upsert(ctx, d)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if entry.PosterURL != "https://img.example.org/custom.jpg" || !entry.PosterIsCustomOverride {
		t.Fatalf("explicit custom poster should win, got %+v", entry)
	}
}

func TestUpsertKeepsHistoryAndRecordsStatusChange(t *testing.T) {
	ctx := context.Background()
	lib, clk := openLibrary(t, storage.NewMemory(0), library.Options{})

	first, err := lib.Upsert(ctx, draft(3, library.StatusPlanned))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	clk.now = clk.now.Add(time.Hour)
	second, err := lib.Upsert(ctx, draft(3, library.StatusWatching))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !second.AddedAt.Equal(first.AddedAt) {
		t.Fatalf("addedAt changed: %v -> %v", first.AddedAt, second.AddedAt)
	}
	if !second.UpdatedAt.Equal(clk.now) {
		t.Fatalf("updatedAt not stamped: %v", second.UpdatedAt)
	}
	if len(second.History) != 1 || second.History[0].From != library.StatusPlanned || second.History[0].To != library.StatusWatching {
		t.Fatalf("unexpected history %+v", second.History)
	}
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	lib, _ := openLibrary(t, storage.NewMemory(0), library.Options{})

	bad := []library.Draft{
		{Entry: library.Entry{ID: 0, Title: "x"}},
		{Entry: library.Entry{ID: 1}},
		{Entry: library.Entry{ID: 1, Title: "x", Status: "dropped"}},
		{Entry: library.Entry{ID: 1, Title: "x", EpisodesTotal: 12, CurrentEpisode: 13}},
	}
	for i, d := range bad {
		if _, err := lib.Upsert(ctx, d); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if lib.Len() != 0 {
		t.Fatalf("invalid drafts must not be stored")
	}
}

func TestCompletedUpsertRequestsDiscovery(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(nil)
	var requested []int64
	bus.Subscribe(func(_ context.Context, evt events.Event) {
		if evt.Kind == events.DiscoveryRequested {
			requested = append(requested, evt.TitleID)
		}
	})
	lib, _ := openLibrary(t, storage.NewMemory(0), library.Options{Bus: bus})

	if _, err := lib.Upsert(ctx, draft(4, library.StatusPlanned)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := lib.Upsert(ctx, draft(5, library.StatusCompleted)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := lib.SetStatus(ctx, 4, library.StatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if len(requested) != 2 || requested[0] != 5 || requested[1] != 4 {
		t.Fatalf("unexpected discovery requests %v", requested)
	}
}

func TestWritesPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	lib, _ := openLibrary(t, store, library.Options{})

	if _, err := lib.Upsert(ctx, draft(6, library.StatusPlanned)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := lib.UpdateProgress(ctx, 6, 4); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if _, err := lib.Upsert(ctx, draft(7, library.StatusPostponed)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if removed, err := lib.Remove(ctx, 7); err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}

	reopened, _ := openLibrary(t, store, library.Options{})
	entry, ok := reopened.Get(6)
	if !ok || entry.CurrentEpisode != 4 {
		t.Fatalf("progress not persisted: %+v ok=%v", entry, ok)
	}
	if reopened.Has(7) {
		t.Fatal("removed entry came back")
	}
	if !reopened.Created().Equal(baseTime) {
		t.Fatalf("library creation time = %v", reopened.Created())
	}
}

func TestUpdateProgressValidation(t *testing.T) {
	ctx := context.Background()
	lib, _ := openLibrary(t, storage.NewMemory(0), library.Options{})
	if _, err := lib.Upsert(ctx, draft(8, library.StatusWatching)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	for _, episode := range []int{-1, 13} {
		if _, err := lib.UpdateProgress(ctx, 8, episode); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("episode %d: expected validation error, got %v", episode, err)
		}
	}
	entry, err := lib.UpdateProgress(ctx, 8, 12)
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if entry.Status != library.StatusWatching {
		t.Fatalf("progress must not change status, got %s", entry.Status)
	}
	if _, err := lib.UpdateProgress(ctx, 99, 1); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetPosterEmptyClearsOverride(t *testing.T) {
	ctx := context.Background()
	lib, _ := openLibrary(t, storage.NewMemory(0), library.Options{})
	if _, err := lib.Upsert(ctx, draft(9, library.StatusPlanned)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := lib.SetPoster(ctx, 9, "https://img.example.org/a.png"); err != nil {
		t.Fatalf("SetPoster: %v", err)
	}
	entry, err := lib.SetPoster(ctx, 9, "  ")
	if err != nil {
		t.Fatalf("SetPoster: %v", err)
	}
	if entry.PosterIsCustomOverride || entry.PosterURL != library.PlaceholderPoster {
		t.Fatalf("override not cleared: %+v", entry)
	}
}

func TestFailedWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	lib, _ := openLibrary(t, storage.NewMemory(64), library.Options{})

	_, err := lib.Upsert(ctx, draft(10, library.StatusPlanned))
	if !errors.Is(err, services.ErrStorage) || !storage.IsQuotaExceeded(err) {
		t.Fatalf("expected quota storage error, got %v", err)
	}
	if lib.Has(10) {
		t.Fatal("failed write left the entry in memory")
	}
}

type ballastReclaimer struct {
	store storage.Store
	calls int
}

func (r *ballastReclaimer) Reclaim(ctx context.Context) error {
	r.calls++
	return r.store.Delete(ctx, "api_cache_ballast")
}

func TestQuotaFailureReclaimsAndRetries(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(2000)
	if err := store.Set(ctx, "api_cache_ballast", strings.Repeat("x", 1950)); err != nil {
		t.Fatalf("seed ballast: %v", err)
	}
	reclaimer := &ballastReclaimer{store: store}
	lib, _ := openLibrary(t, store, library.Options{Reclaimer: reclaimer})

	if _, err := lib.Upsert(ctx, draft(11, library.StatusPlanned)); err != nil {
		t.Fatalf("Upsert after reclaim: %v", err)
	}
	if reclaimer.calls != 1 {
		t.Fatalf("expected one reclaim, got %d", reclaimer.calls)
	}
}

func TestApplySkipsVanishedEntries(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(nil)
	var changes []events.Event
	bus.Subscribe(func(_ context.Context, evt events.Event) {
		if evt.Kind == events.LibraryStatusChanged {
			changes = append(changes, evt)
		}
	})
	lib, clk := openLibrary(t, storage.NewMemory(0), library.Options{Bus: bus})
	if _, err := lib.Upsert(ctx, draft(12, library.StatusPlanned)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	changed, err := lib.Apply(ctx, map[int64]library.Mutation{
		12: func(e *library.Entry) bool {
			e.AppendHistory(e.Status, library.StatusCompleted, "all episodes aired (12/12)", true, clk.now)
			e.Status = library.StatusCompleted
			return true
		},
		404: func(e *library.Entry) bool {
			t.Error("mutation ran for an untracked id")
			return true
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(changed) != 1 || changed[0] != 12 {
		t.Fatalf("changed = %v", changed)
	}
	if len(changes) != 1 || changes[0].Reason != "all episodes aired (12/12)" {
		t.Fatalf("status change events = %+v", changes)
	}
}

func TestMergeKeepsNewerCopies(t *testing.T) {
	ctx := context.Background()
	lib, clk := openLibrary(t, storage.NewMemory(0), library.Options{})
	if _, err := lib.Upsert(ctx, draft(13, library.StatusPlanned)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	local, _ := lib.Get(13)

	stale := local
	stale.Status = library.StatusPostponed
	stale.UpdatedAt = local.UpdatedAt.Add(-time.Hour)
	fresh := library.Entry{ID: 14, Title: "Imported", Status: library.StatusCompleted, AddedAt: clk.now, UpdatedAt: clk.now}

	written, err := lib.Merge(ctx, map[int64]library.Entry{13: stale, 14: fresh})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if written != 1 {
		t.Fatalf("written = %d", written)
	}
	if got, _ := lib.Get(13); got.Status != library.StatusPlanned {
		t.Fatalf("stale import overwrote local entry: %s", got.Status)
	}
	if !lib.Has(14) {
		t.Fatal("new entry not merged")
	}
}
