package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tsundoku/internal/catalog"
	"tsundoku/internal/events"
	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/pacing"
	"tsundoku/internal/services"
)

// ErrAlreadyRunning is returned when a run is requested while another one is
// active.
var ErrAlreadyRunning = errors.New("status reconciliation already running")

const (
	engineName          = "reconcile"
	defaultDurationRuns = 5
	defaultPosterRuns   = 10
)

// Catalog fetches title details.
type Catalog interface {
	Details(ctx context.Context, id int64) (*catalog.Details, error)
}

// Options configures an Engine.
type Options struct {
	Bus    *events.Bus
	Now    func() time.Time
	Logger *slog.Logger
}

// ItemError is one failed title of a run.
type ItemError struct {
	TitleID int64  `json:"titleId"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID     string      `json:"runId"`
	Checked   int         `json:"checked"`
	Completed int         `json:"completed"`
	Updated   int         `json:"updated"`
	Errored   int         `json:"errored"`
	Skipped   int         `json:"skipped"`
	Started   time.Time   `json:"started"`
	Finished  time.Time   `json:"finished"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Duration returns how long the run took.
func (s Summary) Duration() time.Duration { return s.Finished.Sub(s.Started) }

// Engine runs status reconciliation against the catalog.
type Engine struct {
	lib     *library.Library
	catalog Catalog
	pacer   *pacing.Pacer
	bus     *events.Bus
	now     func() time.Time
	logger  *slog.Logger

	running atomic.Bool
}

// New constructs an Engine.
func New(lib *library.Library, client Catalog, pacer *pacing.Pacer, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if pacer == nil {
		pacer = pacing.New(pacing.Options{})
	}
	return &Engine{
		lib:     lib,
		catalog: client,
		pacer:   pacer,
		bus:     opts.Bus,
		now:     now,
		logger:  logging.NewComponentLogger(opts.Logger, engineName),
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Run checks every planned title once. Per-title failures are recorded on
// the entry and counted in the summary; the returned error is reserved for
// cancellation and storage failures.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	summary := Summary{RunID: uuid.NewString(), Started: e.now()}
	ctx = services.WithRunID(services.WithEngine(ctx, engineName), summary.RunID)
	logger := logging.WithContext(ctx, e.logger)

	planned := e.lib.ByStatus(library.StatusPlanned)
	ids := make([]int64, len(planned))
	for i, entry := range planned {
		ids[i] = entry.ID
	}
	logger.Info("status reconciliation started",
		logging.String(logging.FieldEventType, "reconcile_started"),
		logging.Int("planned", len(ids)),
		logging.Int("batch_size", e.pacer.BatchSize()),
	)

	var runErr error
	for i, batch := range pacing.Batches(ids, e.pacer.BatchSize()) {
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

	summary.Finished = e.now()
	e.finish(ctx, logger, summary, runErr)
	return summary, runErr
}

func (e *Engine) runBatch(ctx context.Context, logger *slog.Logger, batch []int64, summary *Summary) error {
	mutations := make(map[int64]library.Mutation, len(batch))
	outcomes := make(map[int64]Outcome, len(batch))
	failures := make(map[int64]error)
	var stopErr error
	for _, id := range batch {
		if !e.lib.Has(id) {
			summary.Skipped++
			continue
		}
		details, err := e.fetch(ctx, id)
		if ctx.Err() != nil {
			stopErr = ctx.Err()
			break
		}
		now := e.now()
		if err != nil {
			e.logFailure(ctx, id, err)
			failures[id] = err
			mutations[id] = func(entry *library.Entry) bool {
				recordFailure(entry, err, now)
				outcomes[id] = OutcomeErrored
				return true
			}
			continue
		}
		mutations[id] = func(entry *library.Entry) bool {
			outcomes[id] = applyDetails(entry, details, now)
			return outcomes[id] != OutcomeUnchanged
		}
	}

	// Work already done in this batch is saved even when the run is stopping.
	if _, err := e.lib.Apply(context.WithoutCancel(ctx), mutations); err != nil {
		return err
	}
	for _, id := range batch {
		if _, queued := mutations[id]; !queued {
			continue
		}
		outcome, ok := outcomes[id]
		if !ok {
			// Removed while the batch was in flight.
			summary.Skipped++
			continue
		}
		summary.Checked++
		switch outcome {
		case OutcomeCompleted:
			summary.Completed++
			logger.Info("title completed",
				logging.Int64(logging.FieldTitleID, id),
				logging.String(logging.FieldEventType, "reconcile_title_completed"),
			)
		case OutcomeUpdated:
			summary.Updated++
			logger.Debug("title metadata updated", logging.Int64(logging.FieldTitleID, id))
		case OutcomeErrored:
			summary.Errored++
			err := failures[id]
			summary.Errors = append(summary.Errors, ItemError{TitleID: id, Kind: services.Kind(err), Message: services.Summary(err)})
		}
	}
	return stopErr
}

func (e *Engine) fetch(ctx context.Context, id int64) (*catalog.Details, error) {
	var details *catalog.Details
	err := e.pacer.Do(services.WithTitleID(ctx, id), func(ctx context.Context) error {
		d, err := e.catalog.Details(ctx, id)
		details = d
		return err
	})
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, services.Wrap(services.ErrMalformedResponse, engineName, "details", fmt.Sprintf("empty details for %d", id), nil)
	}
	return details, nil
}

func (e *Engine) logFailure(ctx context.Context, id int64, err error) {
	logger := logging.WithContext(services.WithTitleID(ctx, id), e.logger)
	logging.WarnWithContext(logger, "title check failed", "reconcile_title_failed",
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "title keeps its current status until the next run"),
		logging.String(logging.FieldErrorHint, hintFor(err)),
	)
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, services.ErrRateLimited):
		return "catalog is throttling requests; raise pacing.request_interval_ms"
	case errors.Is(err, services.ErrNotFound):
		return "title was removed from the catalog; remove it from the library"
	case errors.Is(err, services.ErrNetwork):
		return "check network connectivity"
	default:
		return "retry later"
	}
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, summary Summary, runErr error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "reconcile_finished"),
		logging.Int("checked", summary.Checked),
		logging.Int("completed", summary.Completed),
		logging.Int("updated", summary.Updated),
		logging.Int("errored", summary.Errored),
		logging.Int("skipped", summary.Skipped),
		logging.Duration("duration", summary.Duration()),
	}
	if runErr != nil {
		attrs = append(attrs, logging.Error(runErr))
		logger.Warn("status reconciliation stopped early", logging.Args(attrs...)...)
	} else {
		logger.Info("status reconciliation finished", logging.Args(attrs...)...)
	}
	e.bus.Publish(context.WithoutCancel(ctx), events.Event{Kind: events.ReconcileFinished, Reason: outcomeLabel(runErr), Data: summary})
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return services.Kind(err)
	}
}
