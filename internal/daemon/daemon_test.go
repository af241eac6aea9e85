package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tsundoku/internal/config"
	"tsundoku/internal/daemon"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/metrics"
	"tsundoku/internal/notifications"
	"tsundoku/internal/reqcache"
	"tsundoku/internal/testsupport"
	"tsundoku/internal/tracker"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	titles []string
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if title, ok := payload["title"].(string); ok {
		r.titles = append(r.titles, title)
	}
	return nil
}

func (r *recordingNotifier) snapshot() ([]notifications.Event, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...), append([]string(nil), r.titles...)
}

type harness struct {
	cfg      *config.Config
	srv      *testsupport.CatalogServer
	tracker  *tracker.Tracker
	daemon   *daemon.Daemon
	notifier *recordingNotifier
}

func newHarness(t *testing.T, configure ...func(*config.Config)) *harness {
	t.Helper()
	srv := testsupport.NewCatalogServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithCatalog(srv.URL))
	for _, fn := range configure {
		fn(cfg)
	}
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	tr, err := tracker.Open(context.Background(), cfg, logging.NewNop(), logging.NewJournal(0), collector)
	if err != nil {
		t.Fatalf("tracker.Open: %v", err)
	}
	notifier := &recordingNotifier{}
	d, err := daemon.New(cfg, tr, logging.NewNop(), daemon.Options{
		Collector:    collector,
		Gatherer:     reg,
		Notifier:     notifier,
		StartupDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &harness{cfg: cfg, srv: srv, tracker: tr, daemon: d, notifier: notifier}
}

// update changes a catalog title and drops cached responses so the next
// engine run sees it.
func (h *harness) update(t *testing.T, a testsupport.Anime) {
	t.Helper()
	h.srv.Put(a)
	if err := h.tracker.ClearCache(context.Background(), reqcache.ScopeAll); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := h.daemon.Status()
	if !status.Running || status.LockFilePath != h.cfg.Daemon.LockPath {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Jobs) != 2 {
		t.Fatalf("expected two jobs, got %+v", status.Jobs)
	}

	// Second start should fail
	if err := h.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := daemon.New(h.cfg, h.tracker, logging.NewNop(), daemon.Options{StartupDelay: time.Hour})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); !errors.Is(err, daemon.ErrLocked) {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	h.daemon.Stop()
	if h.daemon.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("lock not released on stop: %v", err)
	}
	other.Stop()
}

func TestRunReconcileHonorsSettingAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.srv.Put(testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "ongoing", Episodes: 12, EpisodesAired: 3})
	if _, err := h.tracker.Add(ctx, 5, library.StatusPlanned, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := h.tracker.SetSetting(ctx, "autoStatusCheck", "off"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	before := h.srv.Calls("/animes/5")
	if err := h.daemon.RunReconcile(ctx); err != nil {
		t.Fatalf("RunReconcile: %v", err)
	}
	if h.srv.Calls("/animes/5") != before {
		t.Fatal("reconcile ran although disabled")
	}
	if job := h.daemon.Status().Jobs[0]; !job.Skipped || job.Runs != 0 {
		t.Fatalf("unexpected job status %+v", job)
	}

	if _, err := h.tracker.SetSetting(ctx, "autoStatusCheck", "on"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	h.update(t, testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12})
	if err := h.daemon.RunReconcile(ctx); err != nil {
		t.Fatalf("RunReconcile: %v", err)
	}
	h.tracker.Wait()
	h.daemon.Stop()

	entry, _ := h.tracker.Get(5)
	if entry.Status != library.StatusCompleted {
		t.Fatalf("status = %s, want completed", entry.Status)
	}
	if job := h.daemon.Status().Jobs[0]; job.Runs != 1 || job.Skipped || job.LastError != "" {
		t.Fatalf("unexpected job status %+v", job)
	}
	events, titles := h.notifier.snapshot()
	if len(events) != 1 || events[0] != notifications.EventTitleCompleted {
		t.Fatalf("unexpected notifications %v", events)
	}
	if len(titles) != 1 || titles[0] != "Airing" {
		t.Fatalf("notification title = %v", titles)
	}
}

func TestNotificationsSettingSilencesDispatcher(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.srv.Put(testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "ongoing", Episodes: 12, EpisodesAired: 3})
	if _, err := h.tracker.Add(ctx, 5, library.StatusPlanned, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.tracker.SetSetting(ctx, "notifications", "off"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.update(t, testsupport.Anime{ID: 5, Name: "Airing", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12})
	if err := h.daemon.RunReconcile(ctx); err != nil {
		t.Fatalf("RunReconcile: %v", err)
	}
	h.tracker.Wait()
	h.daemon.Stop()
	if events, _ := h.notifier.snapshot(); len(events) != 0 {
		t.Fatalf("notifications sent while disabled: %v", events)
	}
}

func TestRunDiscoveryFindsAnnouncementsAndMaintains(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.srv.Put(testsupport.Anime{ID: 1, Name: "Origin", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12})
	h.srv.Put(testsupport.Anime{ID: 99, Name: "Origin Season 2", Kind: "tv", Status: "anons"})
	if _, err := h.tracker.SetSetting(ctx, "autoAnnouncements", "off"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if _, err := h.tracker.Add(ctx, 1, library.StatusCompleted, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.update(t, testsupport.Anime{ID: 1, Name: "Origin", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12, Duration: 24})
	h.srv.SetRelated(1, testsupport.Relation{Kind: "Sequel", Anime: testsupport.Anime{ID: 99, Name: "Origin Season 2", Kind: "tv", Status: "anons"}})
	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.daemon.RunDiscovery(ctx); err != nil {
		t.Fatalf("RunDiscovery: %v", err)
	}
	if h.tracker.Announcements().Len() != 0 {
		t.Fatal("discovery ran although disabled")
	}
	entry, _ := h.tracker.Get(1)
	if entry.EpisodeDurationMinutes != 24 {
		t.Fatalf("maintenance did not fill the duration: %+v", entry)
	}

	if _, err := h.tracker.SetSetting(ctx, "autoAnnouncements", "on"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := h.daemon.RunDiscovery(ctx); err != nil {
		t.Fatalf("RunDiscovery: %v", err)
	}
	h.daemon.Stop()
	if !h.tracker.Announcements().Contains(99) {
		t.Fatalf("sequel not announced: %+v", h.tracker.Groups())
	}
	if job := h.daemon.Status().Jobs[1]; job.Runs != 2 {
		t.Fatalf("unexpected discovery job status %+v", job)
	}
	events, _ := h.notifier.snapshot()
	if len(events) != 1 || events[0] != notifications.EventAnnouncementsFound {
		t.Fatalf("unexpected notifications %v", events)
	}
}

func TestAPIRoutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.srv.Put(testsupport.Anime{ID: 1, Name: "Origin", Kind: "tv", Status: "released", Episodes: 12, EpisodesAired: 12})
	if _, err := h.tracker.Add(ctx, 1, library.StatusPlanned, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	handler := h.daemon.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	var status daemon.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Titles != 1 || status.ReadyToWatch != 1 || status.Running {
		t.Fatalf("unexpected status %+v", status)
	}

	w = get("/api/library?view=ready")
	var lib struct {
		Titles []library.Entry `json:"titles"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &lib); err != nil || len(lib.Titles) != 1 {
		t.Fatalf("ready view = %s, %v", w.Body.String(), err)
	}
	if w = get("/api/library?status=dropped"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", w.Code)
	}

	w = get("/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tsundoku_catalog_requests_total") {
		t.Fatalf("metrics output missing catalog counter: %d %s", w.Code, w.Body.String())
	}

	post := httptest.NewRecorder()
	handler.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/api/jobs/reconcile", nil))
	if post.Code != http.StatusServiceUnavailable {
		t.Fatalf("trigger while stopped: expected 503, got %d", post.Code)
	}
	post = httptest.NewRecorder()
	handler.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/api/jobs/nope", nil))
	if post.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", post.Code)
	}
	if w = get("/api/jobs/reconcile"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET trigger: expected 405, got %d", w.Code)
	}
}

func TestDaemonServesOnBind(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Daemon.MetricsBind = "127.0.0.1:0" })
	if err := h.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.daemon.Stop()

	resp, err := http.Get("http://" + h.daemon.Addr() + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"running":true`) {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}
