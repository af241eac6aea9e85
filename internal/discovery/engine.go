package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tsundoku/internal/announcements"
	"tsundoku/internal/catalog"
	"tsundoku/internal/events"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/pacing"
	"tsundoku/internal/services"
)

// ErrAlreadyRunning is returned when discovery is requested while a run is
// active.
var ErrAlreadyRunning = errors.New("announcement discovery already running")

const (
	engineName = "discovery"
	// DefaultCheckInterval is the minimum time between two checks of one title.
	DefaultCheckInterval = 24 * time.Hour
)

// Catalog is the part of the catalog client discovery needs.
type Catalog interface {
	Related(ctx context.Context, id int64) ([]catalog.RelationEdge, error)
	Details(ctx context.Context, id int64) (*catalog.Details, error)
}

// Options configures an Engine.
type Options struct {
	Bus           *events.Bus
	Now           func() time.Time
	Logger        *slog.Logger
	CheckInterval time.Duration
	FutureWindow  time.Duration
}

// ItemError is one failed title of a run.
type ItemError struct {
	TitleID int64  `json:"titleId"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Summary reports the outcome of a discovery run.
type Summary struct {
	RunID    string        `json:"runId"`
	Scanned  int           `json:"scanned"`
	Skipped  int           `json:"skipped"`
	Found    int           `json:"found"`
	Errored  int           `json:"errored"`
	Cleanup  CleanupResult `json:"cleanup"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Errors   []ItemError   `json:"errors,omitempty"`
}

// Duration returns how long the run took.
func (s Summary) Duration() time.Duration { return s.Finished.Sub(s.Started) }

// Engine discovers announcements for completed titles.
type Engine struct {
	lib           *library.Library
	ann           *announcements.Store
	catalog       Catalog
	pacer         *pacing.Pacer
	bus           *events.Bus
	now           func() time.Time
	logger        *slog.Logger
	checkInterval time.Duration
	futureWindow  time.Duration

	running atomic.Bool
	// commit serializes the check-then-write steps of discovery and
	// promotion so an id cannot land in both collections.
	commit sync.Mutex
}

// New constructs an Engine.
func New(lib *library.Library, ann *announcements.Store, client Catalog, pacer *pacing.Pacer, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if pacer == nil {
		pacer = pacing.New(pacing.Options{})
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	window := opts.FutureWindow
	if window <= 0 {
		window = DefaultFutureWindow
	}
	return &Engine{
		lib:           lib,
		ann:           ann,
		catalog:       client,
		pacer:         pacer,
		bus:           opts.Bus,
		now:           now,
		logger:        logging.NewComponentLogger(opts.Logger, engineName),
		checkInterval: interval,
		futureWindow:  window,
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Run checks every completed title that is due and finishes with a cleanup
// pass.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	completed := e.lib.ByStatus(library.StatusCompleted)
	ids := make([]int64, len(completed))
	for i, entry := range completed {
		ids[i] = entry.ID
	}
	return e.run(ctx, ids, true)
}

// RunOne checks a single completed title unless it was already checked
// today. It is what a completed upsert triggers.
func (e *Engine) RunOne(ctx context.Context, id int64) (Summary, error) {
	entry, ok := e.lib.Get(id)
	if !ok {
		return Summary{}, services.Wrap(services.ErrNotFound, engineName, "run_one", fmt.Sprintf("title %d not in library", id), nil)
	}
	if entry.Status != library.StatusCompleted {
		return Summary{}, services.Wrap(services.ErrValidation, engineName, "run_one", fmt.Sprintf("title %d is %s, not completed", id, entry.Status), nil)
	}
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)
	return e.run(ctx, []int64{id}, false)
}

func (e *Engine) run(ctx context.Context, ids []int64, cleanup bool) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), Started: e.now()}
	ctx = services.WithRunID(services.WithEngine(ctx, engineName), summary.RunID)
	logger := logging.WithContext(ctx, e.logger)
	logger.Info("announcement discovery started",
		logging.String(logging.FieldEventType, "discovery_started"),
		logging.Int("completed", len(ids)),
	)

	var runErr error
	due := make([]int64, 0, len(ids))
	for _, id := range ids {
		if e.due(id) {
			due = append(due, id)
		} else {
			summary.Skipped++
		}
	}
	for i, batch := range pacing.Batches(due, e.pacer.BatchSize()) {
		if i > 0 {
			if err := e.pacer.BatchPause(ctx); err != nil {
				runErr = err
				break
			}
		}
		if err := e.runBatch(ctx, logger, batch, &summary); err != nil {
			runErr = err
			break
		}
	}

	if cleanup && runErr == nil {
		result, err := e.Cleanup(ctx)
		if err != nil {
			runErr = err
		}
		summary.Cleanup = result
	}
	summary.Finished = e.now()
	e.finish(ctx, logger, summary, runErr)
	return summary, runErr
}

// due applies the check governor: a title checked today with nothing found,
// or checked within the check interval, is skipped. A failed check counts as
// a check and waits like any other.
func (e *Engine) due(id int64) bool {
	rec, ok := e.ann.Check(id)
	if !ok {
		return true
	}
	now := e.now()
	if sameDay(now, rec.LastCheckedAt) && rec.LastResultCount == 0 {
		return false
	}
	return now.Sub(rec.LastCheckedAt) >= e.checkInterval
}

func (e *Engine) runBatch(ctx context.Context, logger *slog.Logger, batch []int64, summary *Summary) error {
	for _, id := range batch {
		origin, ok := e.lib.Get(id)
		if !ok {
			summary.Skipped++
			continue
		}
		edges, err := e.related(ctx, id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary.Scanned++
		if err != nil {
			summary.Errored++
			summary.Errors = append(summary.Errors, ItemError{TitleID: id, Kind: services.Kind(err), Message: services.Summary(err)})
			e.logFailure(ctx, id, err)
			if !e.lib.Has(id) {
				continue
			}
			e.ann.RecordCheck(ctx, id, announcements.CheckRecord{
				LastCheckedAt: e.now(),
				LastError:     services.Summary(err),
				LastErrorKind: services.Kind(err),
			})
			continue
		}

		now := e.now()
		var candidates []announcements.Entry
		for _, edge := range edges {
			if Candidate(edge, now, e.futureWindow) {
				candidates = append(candidates, announcements.FromEdge(edge, now))
			}
		}
		added, err := e.commitCandidates(ctx, id, origin.Title, candidates)
		if err != nil {
			return err
		}
		summary.Found += len(added)
		if !e.lib.Has(id) {
			// Removed while its relations were fetched.
			continue
		}
		e.ann.RecordCheck(ctx, id, announcements.CheckRecord{LastCheckedAt: now, LastResultCount: len(candidates)})
		if len(added) > 0 {
			logger.Info("announcements found",
				logging.Int64(logging.FieldTitleID, id),
				logging.Int("found", len(added)),
				logging.String(logging.FieldEventType, "discovery_announcements_found"),
			)
		}
	}
	return nil
}

// commitCandidates drops candidates already tracked in the library and
// appends the rest to the origin's group. The origin must still be tracked.
func (e *Engine) commitCandidates(ctx context.Context, originID int64, originTitle string, candidates []announcements.Entry) ([]announcements.Entry, error) {
	e.commit.Lock()
	defer e.commit.Unlock()
	if !e.lib.Has(originID) {
		return nil, nil
	}
	fresh := candidates[:0:0]
	for _, c := range candidates {
		if c.ID == originID || e.lib.Has(c.ID) {
			continue
		}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	return e.ann.Append(ctx, originID, originTitle, fresh)
}

// Exclusive runs fn while no discovery run or promotion can commit. Library
// writes that must not race an announcement for the same id go through it.
func (e *Engine) Exclusive(fn func() error) error {
	e.commit.Lock()
	defer e.commit.Unlock()
	return fn()
}

func (e *Engine) related(ctx context.Context, id int64) ([]catalog.RelationEdge, error) {
	var edges []catalog.RelationEdge
	err := e.pacer.Do(services.WithTitleID(ctx, id), func(ctx context.Context) error {
		var err error
		edges, err = e.catalog.Related(ctx, id)
		return err
	})
	return edges, err
}

func (e *Engine) logFailure(ctx context.Context, id int64, err error) {
	logger := logging.WithContext(services.WithTitleID(ctx, id), e.logger)
	logging.WarnWithContext(logger, "related titles lookup failed", "discovery_title_failed",
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "announcements for this title are checked again after the check interval"),
		logging.String(logging.FieldErrorHint, "check network connectivity or raise pacing.request_interval_ms"),
	)
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, summary Summary, runErr error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "discovery_finished"),
		logging.Int("scanned", summary.Scanned),
		logging.Int("skipped", summary.Skipped),
		logging.Int("found", summary.Found),
		logging.Int("errored", summary.Errored),
		logging.Int("pruned", summary.Cleanup.Total()),
		logging.Duration("duration", summary.Duration()),
	}
	reason := "ok"
	if runErr != nil {
		reason = services.Kind(runErr)
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			reason = "canceled"
		}
		attrs = append(attrs, logging.Error(runErr))
		logger.Warn("announcement discovery stopped early", logging.Args(attrs...)...)
	} else {
		logger.Info("announcement discovery finished", logging.Args(attrs...)...)
	}
	e.bus.Publish(context.WithoutCancel(ctx), events.Event{Kind: events.DiscoveryFinished, Reason: reason, Data: summary})
}
