package tracker_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tsundoku/internal/announcements"
	"tsundoku/internal/catalog"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/pacing"
	"tsundoku/internal/services"
	"tsundoku/internal/storage"
	"tsundoku/internal/testsupport"
	"tsundoku/internal/tracker"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTracker(t *testing.T, srv *testsupport.CatalogServer, store storage.Store) *tracker.Tracker {
	t.Helper()
	client, err := catalog.New(srv.URL, catalog.WithSiteURL("https://shikimori.one"))
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	tr, err := tracker.New(context.Background(), tracker.Deps{
		Store:   store,
		Catalog: client,
		Pacer:   pacing.New(pacing.Options{Sleep: noSleep}),
		Journal: logging.NewJournal(0),
		SiteURL: "https://shikimori.one",
	})
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func seedCatalog(srv *testsupport.CatalogServer) {
	srv.Put(testsupport.Anime{ID: 1, Name: "Origin", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12, Duration: 24, Genres: []string{"Drama"}})
	srv.Put(testsupport.Anime{ID: 99, Name: "Origin Season 2", Kind: "tv", Status: "anons", Image: "/system/animes/original/99.jpg"})
	srv.SetRelated(1, testsupport.Relation{Kind: "Sequel", Anime: testsupport.Anime{ID: 99, Name: "Origin Season 2", Kind: "tv", Status: "anons"}})
}

func TestCompletedAddDiscoversAndAddPromotes(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	tr := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()

	if _, err := tr.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.Wait()
	if !tr.Announcements().Contains(99) {
		t.Fatalf("completed add did not discover the sequel: %+v", tr.Groups())
	}

	entry, err := tr.Add(ctx, 99, library.StatusWatching, "")
	if err != nil {
		t.Fatalf("Add announced title: %v", err)
	}
	if entry.Status != library.StatusWatching {
		t.Fatalf("status = %s, want watching", entry.Status)
	}
	if entry.Origin == nil || entry.Origin.SourceTitleID != 1 {
		t.Fatalf("origin not recorded: %+v", entry.Origin)
	}
	if tr.Announcements().Contains(99) {
		t.Fatal("title is both announced and in the library")
	}
}

func TestRemoveDropsDiscoveredAnnouncements(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	tr := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()

	if _, err := tr.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.Wait()
	removed, err := tr.Remove(ctx, 1)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if tr.Announcements().Len() != 0 {
		t.Fatalf("announcements survived their origin: %+v", tr.Groups())
	}
	if removed, _ := tr.Remove(ctx, 1); removed {
		t.Fatal("second remove reported a removal")
	}
}

func TestAutoAnnouncementsSettingGatesDiscovery(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	store := testsupport.MustOpenStore(t, nil)
	tr := newTracker(t, srv, store)
	ctx := context.Background()

	if _, err := tr.SetSetting(ctx, "autoAnnouncements", "off"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if _, err := tr.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.Wait()
	if tr.Announcements().Len() != 0 || srv.Calls("/animes/1/related") != 0 {
		t.Fatal("discovery ran although disabled")
	}

	if _, err := tr.SetSetting(ctx, "volume", "on"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown setting, got %v", err)
	}
	if _, err := tr.SetSetting(ctx, "notifications", "maybe"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad value, got %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened := newTracker(t, srv, store)
	got := reopened.Settings()
	if got.AutoAnnouncements || !got.AutoStatusCheck || !got.Notifications {
		t.Fatalf("settings not persisted: %+v", got)
	}
}

func TestReconcileCompletesAndChecksAnnouncements(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	srv.Put(testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "ongoing", Episodes: 12, EpisodesAired: 3})
	tr := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()

	if _, err := tr.Add(ctx, 5, library.StatusPlanned, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := tr.WaitingForEpisodes(); len(got) != 1 {
		t.Fatalf("waiting = %d entries, want 1", len(got))
	}

	srv.Put(testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12})
	summary, err := tr.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	tr.Wait()
	if summary.Completed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	entry, _ := tr.Get(5)
	if entry.Status != library.StatusCompleted {
		t.Fatalf("status = %s, want completed", entry.Status)
	}
	if srv.Calls("/animes/5/related") != 1 {
		t.Fatalf("automated completion did not trigger discovery")
	}
	snapshots, err := tr.Snapshots(ctx)
	if err != nil || len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, %v", len(snapshots), err)
	}
}

func TestSearchAnnotatesTrackedTitles(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	tr := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()
	if _, err := tr.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.Wait()

	results, err := tr.Search(ctx, "origin", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		switch r.ID {
		case 1:
			if !r.InLibrary || r.Status != library.StatusCompleted {
				t.Errorf("title 1 not marked as tracked: %+v", r)
			}
		case 99:
			if !r.Announced || r.InLibrary {
				t.Errorf("title 99 not marked as announced: %+v", r)
			}
		}
	}

	short, err := tr.Search(ctx, "o", 10)
	if err != nil || len(short) != 0 {
		t.Fatalf("short query = %v, %v", short, err)
	}
}

func TestExportImport(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	source := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()
	if _, err := source.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	source.Wait()
	if _, err := source.SetSetting(ctx, "notifications", "false"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	var buf bytes.Buffer
	if err := source.Export(&buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(buf.String(), `"version": 1`) {
		t.Fatalf("export lacks version: %s", buf.String())
	}

	target := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	result, err := target.Import(ctx, bytes.NewReader(buf.Bytes()), tracker.ImportMerge)
	if err != nil {
		t.Fatalf("Import merge: %v", err)
	}
	if result.Titles != 1 || result.Announcements != 1 {
		t.Fatalf("unexpected merge result %+v", result)
	}
	if !target.Settings().Notifications {
		t.Fatal("merge import must not change settings")
	}

	result, err = target.Import(ctx, bytes.NewReader(buf.Bytes()), tracker.ImportReplace)
	if err != nil {
		t.Fatalf("Import replace: %v", err)
	}
	if result.Titles != 1 || target.Settings().Notifications {
		t.Fatalf("replace import did not restore settings: %+v %+v", result, target.Settings())
	}
	if snaps, _ := target.Snapshots(ctx); len(snaps) != 1 {
		t.Fatalf("replace import did not snapshot the library")
	}

	if _, err := target.Import(ctx, strings.NewReader(`{"version":7}`), tracker.ImportMerge); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for version 7, got %v", err)
	}
	if _, err := target.Import(ctx, strings.NewReader(`{"version":1,"library":{"3":{"title":"x","status":"dropped"}}}`), tracker.ImportMerge); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if _, err := target.Import(ctx, strings.NewReader(`not json`), tracker.ImportMerge); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for garbage, got %v", err)
	}
}

func TestImportDropsAnnouncementsOfTrackedTitles(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	tr := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()
	if _, err := tr.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.Wait()

	backup := `{"version":1,"library":{"99":{"id":99,"title":"Origin Season 2","status":"planned","updatedAt":"2030-01-01T00:00:00Z"}}}`
	result, err := tr.Import(ctx, strings.NewReader(backup), tracker.ImportMerge)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Pruned != 1 || tr.Announcements().Contains(99) {
		t.Fatalf("announcement of imported title kept: %+v", result)
	}
}

func TestSnapshotsRotateAndRestore(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	tr := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()
	if _, err := tr.Add(ctx, 1, library.StatusPlanned, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := tr.TakeSnapshot(ctx, "test"); err != nil {
			t.Fatalf("TakeSnapshot: %v", err)
		}
	}
	snaps, err := tr.Snapshots(ctx)
	if err != nil || len(snaps) != 3 {
		t.Fatalf("snapshots = %d, %v", len(snaps), err)
	}

	if _, err := tr.Remove(ctx, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := tr.RestoreSnapshot(ctx); err != nil || !ok {
		t.Fatalf("RestoreSnapshot = %v, %v", ok, err)
	}
	if _, ok := tr.Get(1); !ok {
		t.Fatal("title not restored from snapshot")
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	store := testsupport.MustOpenStore(t, nil)
	tr := newTracker(t, srv, store)
	tr.Journal().JournalError("reconcile", "title check failed", services.Wrap(services.ErrNetwork, "catalog", "details", "", nil))
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := newTracker(t, srv, store)
	records := reopened.Errors(0)
	if len(records) != 1 || records[0].Kind != "network" {
		t.Fatalf("journal not restored: %+v", records)
	}
	if err := reopened.ClearErrors(context.Background()); err != nil {
		t.Fatalf("ClearErrors: %v", err)
	}
	if len(reopened.Errors(0)) != 0 {
		t.Fatal("journal not cleared")
	}
}

func TestAnnouncementPosterThroughSetPoster(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	tr := newTracker(t, srv, testsupport.MustOpenStore(t, nil))
	ctx := context.Background()
	if _, err := tr.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.Wait()

	if _, err := tr.SetPoster(ctx, 99, "https://img.example.org/season2.webp"); err != nil {
		t.Fatalf("SetPoster: %v", err)
	}
	entry, err := tr.Promote(ctx, 99)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if entry.PosterURL != "https://img.example.org/season2.webp" || !entry.PosterIsCustomOverride {
		t.Fatalf("announcement poster not carried over: %+v", entry)
	}
}

// announcingCatalog runs beforeDetails once, ahead of the first Details call.
type announcingCatalog struct {
	tracker.Catalog
	beforeDetails func(id int64)
}

func (c *announcingCatalog) Details(ctx context.Context, id int64) (*catalog.Details, error) {
	if hook := c.beforeDetails; hook != nil {
		c.beforeDetails = nil
		hook(id)
	}
	return c.Catalog.Details(ctx, id)
}

func TestAddPromotesTitleAnnouncedDuringFetch(t *testing.T) {
	srv := testsupport.NewCatalogServer(t)
	seedCatalog(srv)
	client, err := catalog.New(srv.URL, catalog.WithSiteURL("https://shikimori.one"))
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	ctx := context.Background()
	wrapped := &announcingCatalog{Catalog: client}
	tr, err := tracker.New(ctx, tracker.Deps{
		Store:   testsupport.MustOpenStore(t, nil),
		Catalog: wrapped,
		Pacer:   pacing.New(pacing.Options{Sleep: noSleep}),
		Journal: logging.NewJournal(0),
		SiteURL: "https://shikimori.one",
	})
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	edge := catalog.RelationEdge{
		RelationKind: catalog.RelationSequel,
		Summary:      catalog.Summary{ID: 99, Title: "Origin Season 2", Kind: "tv", Status: catalog.StatusAnnounced},
	}
	wrapped.beforeDetails = func(int64) {
		if _, err := tr.Announcements().Append(ctx, 1, "Origin", []announcements.Entry{announcements.FromEdge(edge, time.Now())}); err != nil {
			t.Errorf("Append: %v", err)
		}
	}

	entry, err := tr.Add(ctx, 99, library.StatusWatching, "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tr.Announcements().Contains(99) {
		t.Fatal("title is both announced and in the library")
	}
	if entry.Status != library.StatusWatching || entry.Origin == nil || entry.Origin.SourceTitleID != 1 {
		t.Fatalf("announced title not promoted: %+v", entry)
	}
}
