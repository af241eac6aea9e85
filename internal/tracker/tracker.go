package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tsundoku/internal/announcements"
	"tsundoku/internal/catalog"
	"tsundoku/internal/config"
	"tsundoku/internal/discovery"
	"tsundoku/internal/events"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/pacing"
	"tsundoku/internal/reconcile"
	"tsundoku/internal/reqcache"
	"tsundoku/internal/services"
	"tsundoku/internal/storage"
)

// Catalog is the remote catalog surface the tracker uses.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]catalog.Summary, error)
	Details(ctx context.Context, id int64) (*catalog.Details, error)
	Related(ctx context.Context, id int64) ([]catalog.RelationEdge, error)
}

// Deps are the constructed components a Tracker is assembled from. Store and
// Catalog are required.
type Deps struct {
	Store   storage.Store
	Catalog Catalog
	Cache   *reqcache.Cache
	Pacer   *pacing.Pacer
	Bus     *events.Bus
	Journal *logging.Journal
	Logger  *slog.Logger
	Now     func() time.Time

	SiteURL       string
	CheckInterval time.Duration
	FutureWindow  time.Duration
}

// Tracker ties the stores and engines together.
type Tracker struct {
	store     storage.Store
	catalog   Catalog
	cache     *reqcache.Cache
	pacer     *pacing.Pacer
	bus       *events.Bus
	journal   *logging.Journal
	logger    *slog.Logger
	now       func() time.Time
	library   *library.Library
	ann       *announcements.Store
	reconcile *reconcile.Engine
	discovery *discovery.Engine

	settingsMu sync.RWMutex
	settings   Settings

	background sync.WaitGroup
	unsubs     []func()
	closers    []func() error
	closeOnce  sync.Once
}

// Open builds a Tracker from cfg. The caller supplies the logger and journal
// so command output and daemon logs share them; recorder may be nil.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, journal *logging.Journal, recorder Recorder) (*Tracker, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tracker", "open", "config is required", nil)
	}
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	search, details, related := cfg.CacheTTLs()
	cacheOpts := reqcache.Options{
		TTLs: map[reqcache.Op]time.Duration{
			reqcache.OpSearch:  search,
			reqcache.OpDetails: details,
			reqcache.OpRelated: related,
		},
		MemoryLimit:   cfg.Cache.MemoryEntriesPerType,
		EvictBatch:    cfg.Cache.MemoryEvictBatch,
		SweepInterval: cfg.CacheSweepInterval(),
		Logger:        logger,
	}
	var catalogRecorder catalog.Recorder
	if recorder != nil {
		cacheOpts.Observer = recorder
		catalogRecorder = recorder
	}
	cache := reqcache.New(store, cacheOpts)
	client, err := catalog.NewFromConfig(cfg, cache, catalogRecorder, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pacerOpts := pacing.OptionsFromConfig(cfg)
	pacerOpts.Logger = logger
	if recorder != nil {
		pacerOpts.Observer = recorder
	}

	t, err := New(ctx, Deps{
		Store:         store,
		Catalog:       client,
		Cache:         cache,
		Pacer:         pacing.New(pacerOpts),
		Bus:           events.NewBus(logger),
		Journal:       journal,
		Logger:        logger,
		SiteURL:       cfg.Catalog.SiteURL,
		CheckInterval: cfg.DiscoveryCheckInterval(),
		FutureWindow:  cfg.FutureWindow(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	t.closers = append(t.closers, store.Close)
	cache.MaybeSweep(ctx)
	return t, nil
}

// Recorder is satisfied by the metrics collector.
type Recorder interface {
	catalog.Recorder
	reqcache.Observer
	pacing.Observer
}

// New assembles a Tracker from already constructed parts and loads the
// persisted state.
func New(ctx context.Context, deps Deps) (*Tracker, error) {
	if deps.Store == nil || deps.Catalog == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tracker", "new", "store and catalog are required", nil)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(deps.Logger)
	}
	pacer := deps.Pacer
	if pacer == nil {
		pacer = pacing.New(pacing.Options{Now: now, Logger: deps.Logger})
	}
	var reclaimer storage.Reclaimer
	if deps.Cache != nil {
		reclaimer = deps.Cache
	}

	lib, err := library.Open(ctx, deps.Store, library.Options{
		Bus:       bus,
		Reclaimer: reclaimer,
		SiteURL:   deps.SiteURL,
		Now:       now,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	ann, err := announcements.Open(ctx, deps.Store, announcements.Options{
		Bus:       bus,
		Reclaimer: reclaimer,
		Now:       now,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		store:   deps.Store,
		catalog: deps.Catalog,
		cache:   deps.Cache,
		pacer:   pacer,
		bus:     bus,
		journal: deps.Journal,
		logger:  logging.NewComponentLogger(deps.Logger, "tracker"),
		now:     now,
		library: lib,
		ann:     ann,
		reconcile: reconcile.New(lib, deps.Catalog, pacer, reconcile.Options{
			Bus:    bus,
			Now:    now,
			Logger: deps.Logger,
		}),
		discovery: discovery.New(lib, ann, deps.Catalog, pacer, discovery.Options{
			Bus:           bus,
			Now:           now,
			Logger:        deps.Logger,
			CheckInterval: deps.CheckInterval,
			FutureWindow:  deps.FutureWindow,
		}),
	}
	if err := t.loadSettings(ctx); err != nil {
		return nil, err
	}
	t.loadJournal(ctx)

	// Groups whose origin was removed while an older build ran.
	if _, err := ann.PruneOrphans(ctx, lib.Has); err != nil {
		logging.WarnWithContext(t.logger, "orphaned announcements not pruned", "announcements_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale announcement groups stay visible until the next cleanup"),
		)
	}

	t.unsubs = append(t.unsubs, bus.Subscribe(t.onEvent))
	return t, nil
}

// Bus exposes the event bus for additional subscribers such as metrics and
// notifications.
func (t *Tracker) Bus() *events.Bus { return t.bus }

// Library exposes the library store.
func (t *Tracker) Library() *library.Library { return t.library }

// Announcements exposes the announcement store.
func (t *Tracker) Announcements() *announcements.Store { return t.ann }

// Journal returns the error journal, which may be nil.
func (t *Tracker) Journal() *logging.Journal { return t.journal }

// Wait blocks until background discovery runs started by events finish.
func (t *Tracker) Wait() { t.background.Wait() }

// Close stops event handling, waits for background work, saves the error
// journal and closes the store when Open created it.
func (t *Tracker) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		for _, unsub := range t.unsubs {
			unsub()
		}
		t.background.Wait()
		if err := t.persistJournal(context.Background()); err != nil {
			errs = append(errs, err)
		}
		for _, closeFn := range t.closers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// onEvent schedules a single-title discovery whenever a title becomes
// completed and the user allows automatic announcement checks.
func (t *Tracker) onEvent(ctx context.Context, evt events.Event) {
	switch evt.Kind {
	case events.DiscoveryRequested:
	case events.LibraryStatusChanged:
		// User edits already publish discovery.requested.
		if evt.Status != string(library.StatusCompleted) || evt.Reason == library.ReasonUserEdit {
			return
		}
	default:
		return
	}
	if !t.Settings().AutoAnnouncements {
		return
	}
	id := evt.TitleID
	ctx = context.WithoutCancel(ctx)
	t.background.Add(1)
	go func() {
		defer t.background.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.ErrorWithContext(t.logger, "announcement check after completion panicked", "discovery_after_completion_panic",
					logging.Int64(logging.FieldTitleID, id),
					logging.String("panic", fmt.Sprint(r)),
					logging.String(logging.FieldImpact, "announcements for this title are found by the next scheduled discovery"),
				)
			}
		}()
		_, err := t.discovery.RunOne(ctx, id)
		switch {
		case err == nil, errors.Is(err, discovery.ErrAlreadyRunning), errors.Is(err, services.ErrNotFound):
		default:
			logging.WarnWithContext(t.logger, "announcement check after completion failed", "discovery_after_completion_failed",
				logging.Int64(logging.FieldTitleID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "announcements for this title are found by the next scheduled discovery"),
			)
		}
	}()
}
