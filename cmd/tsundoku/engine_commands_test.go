package main

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"tsundoku/internal/discovery"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/reconcile"
	"tsundoku/internal/services"
	"tsundoku/internal/testsupport"
	"tsundoku/internal/tracker"
)

func TestReconcileCompletesReleasedTitle(t *testing.T) {
	env := setupCLITestEnv(t)
	env.catalog.Put(testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "ongoing", Episodes: 12, EpisodesAired: 6, Duration: 24})
	env.mustRun(t, "settings", "set", "autoAnnouncements", "off")
	env.mustRun(t, "add", "5")

	env.catalog.Put(testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12, Duration: 24})
	env.mustRun(t, "cache", "clear")

	var summary reconcile.Summary
	decodeJSON(t, env.mustRun(t, "--json", "reconcile"), &summary)
	if summary.Checked != 1 || summary.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var entry library.Entry
	decodeJSON(t, env.mustRun(t, "--json", "show", "5"), &entry)
	if entry.Status != library.StatusCompleted {
		t.Fatalf("status = %s, want completed", entry.Status)
	}

	out := env.mustRun(t, "backup", "snapshots")
	requireContains(t, out, "before status check")
}

func TestDiscoverDismissAndCleanup(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seed()
	env.mustRun(t, "settings", "set", "autoAnnouncements", "off")
	env.mustRun(t, "add", "1", "--status", "completed")

	var summary discovery.Summary
	decodeJSON(t, env.mustRun(t, "--json", "discover"), &summary)
	if summary.Found != 1 {
		t.Fatalf("unexpected discovery summary: %+v", summary)
	}

	out := env.mustRun(t, "dismiss", "99")
	requireContains(t, out, "Announcement 99 dismissed")
	out = env.mustRun(t, "dismiss", "99")
	requireContains(t, out, "Announcement 99 not found")

	var cleaned discovery.CleanupResult
	decodeJSON(t, env.mustRun(t, "--json", "cleanup"), &cleaned)
	if cleaned.Total() != 0 {
		t.Fatalf("nothing should be left to clean: %+v", cleaned)
	}
}

func TestDurationsRefreshFillsMissingLength(t *testing.T) {
	env := setupCLITestEnv(t)
	env.catalog.Put(testsupport.Anime{ID: 7, Name: "Short", Kind: "tv", Status: "released", Episodes: 3, EpisodesAired: 3})
	env.mustRun(t, "settings", "set", "autoAnnouncements", "off")
	env.mustRun(t, "add", "7", "--status", "completed")

	env.catalog.Put(testsupport.Anime{ID: 7, Name: "Short", Kind: "tv", Status: "released", Episodes: 3, EpisodesAired: 3, Duration: 12})
	env.mustRun(t, "cache", "clear", "--scope", "persistent")

	out := env.mustRun(t, "durations", "refresh")
	requireContains(t, out, "Updated durations of 1 titles")

	var entry library.Entry
	decodeJSON(t, env.mustRun(t, "--json", "show", "7"), &entry)
	if entry.EpisodeDurationMinutes != 12 {
		t.Fatalf("duration = %d, want 12", entry.EpisodeDurationMinutes)
	}
}

func TestBackupExportImportAndRestore(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seed()
	env.mustRun(t, "settings", "set", "autoAnnouncements", "off")
	env.mustRun(t, "add", "1", "--status", "watching")

	backupPath := filepath.Join(env.baseDir, "backups", "library.json")
	env.mustRun(t, "backup", "export", backupPath)
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("backup not written: %v", err)
	}

	env.mustRun(t, "remove", "1")

	var result tracker.ImportResult
	decodeJSON(t, env.mustRun(t, "--json", "backup", "import", backupPath), &result)
	if result.Mode != tracker.ImportMerge || result.Titles != 1 {
		t.Fatalf("unexpected import result: %+v", result)
	}
	out := env.mustRun(t, "list")
	requireContains(t, out, "Origin")

	if _, _, err := env.run(t, "backup", "restore"); err == nil {
		t.Fatal("expected restore without snapshots to fail")
	}
	if _, _, err := env.run(t, "backup", "import", filepath.Join(env.baseDir, "missing.json")); err == nil {
		t.Fatal("expected missing backup file to fail")
	}
}

func TestSettingsShowAndSet(t *testing.T) {
	env := setupCLITestEnv(t)

	var settings tracker.Settings
	decodeJSON(t, env.mustRun(t, "--json", "settings", "set", "notifications", "off"), &settings)
	if settings.Notifications || !settings.AutoStatusCheck || !settings.AutoAnnouncements {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	out := env.mustRun(t, "settings", "show")
	requireContains(t, out, "notifications")
	requireContains(t, out, "no")

	if _, _, err := env.run(t, "settings", "set", "volume", "on"); err == nil {
		t.Fatal("expected unknown setting error")
	}
}

func TestCacheAndErrorsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seed()
	env.mustRun(t, "search", "origin")

	out := env.mustRun(t, "cache", "stats")
	requireContains(t, out, "search")

	if _, _, err := env.run(t, "cache", "clear", "--scope", "bogus"); err == nil {
		t.Fatal("expected unknown scope error")
	}
	out = env.mustRun(t, "cache", "sweep")
	requireContains(t, out, "Removed 0 expired entries")

	out = env.mustRun(t, "errors")
	requireContains(t, out, "No errors recorded")
	out = env.mustRun(t, "errors", "--clear")
	requireContains(t, out, "Error journal cleared")
}

func TestFailedCommandIsJournaled(t *testing.T) {
	env := setupCLITestEnv(t)
	env.seed()
	env.catalog.Fail("/animes/1", http.StatusInternalServerError)

	if _, _, err := env.run(t, "add", "1"); err == nil {
		t.Fatal("expected add to fail while the catalog errors")
	}

	var payload struct {
		Errors []logging.JournalRecord `json:"errors"`
	}
	decodeJSON(t, env.mustRun(t, "--json", "errors"), &payload)
	if len(payload.Errors) == 0 {
		t.Fatal("failed add was not journaled")
	}
	last := payload.Errors[len(payload.Errors)-1]
	if last.Component != "tsundoku add" || last.Kind != services.KindServer {
		t.Fatalf("unexpected journal record %+v", last)
	}
	requireContains(t, last.Detail, "HTTP 500")
}

func TestConfigInitValidateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "config", "validate")
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Storage: json")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	out = env.mustRun(t, "config", "show")
	requireContains(t, out, "[storage]")
	requireContains(t, out, "json")
}

func TestNotifyTestRequiresTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := env.run(t, "notify", "test"); err == nil {
		t.Fatal("expected error without ntfy topic")
	}
}
