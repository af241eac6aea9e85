package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"tsundoku/internal/config"
	"tsundoku/internal/logging"
	"tsundoku/internal/metrics"
	"tsundoku/internal/notifications"
	"tsundoku/internal/tracker"
)

// ErrLocked is returned by Start when another daemon holds the lock file.
var ErrLocked = errors.New("another tsundoku daemon instance is already running")

// Options carries the optional collaborators of a Daemon.
type Options struct {
	// Collector receives engine summaries from the bus. Gatherer exposes the
	// registry it was created on at /metrics.
	Collector *metrics.Collector
	Gatherer  prometheus.Gatherer
	Notifier  notifications.Service
	// StartupDelay postpones the first scheduled run of each job.
	StartupDelay time.Duration
	Now          func() time.Time
}

// Daemon runs the scheduled engines against a Tracker and enforces
// single-instance execution.
type Daemon struct {
	cfg     *config.Config
	tracker *tracker.Tracker
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	lockPath string
	lock     *flock.Flock

	dispatcher *notifications.Dispatcher
	api        *apiServer

	mu        sync.Mutex
	jobs      map[string]*JobStatus
	startedAt time.Time
	unsubs    []func()

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// JobStatus describes the last run of one scheduled job.
type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	LastRun   time.Time     `json:"lastRun,omitzero"`
	LastError string        `json:"lastError,omitempty"`
	Skipped   bool          `json:"skipped,omitempty"`
	Runs      int           `json:"runs"`
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool             `json:"running"`
	PID           int              `json:"pid"`
	StartedAt     time.Time        `json:"startedAt,omitzero"`
	LockFilePath  string           `json:"lockFilePath"`
	Settings      tracker.Settings `json:"settings"`
	Titles        int              `json:"titles"`
	ReadyToWatch  int              `json:"readyToWatch"`
	Announcements int              `json:"announcements"`
	Errors        int              `json:"errors"`
	Jobs          []JobStatus      `json:"jobs"`
}

// New constructs a daemon around an opened tracker.
func New(cfg *config.Config, tr *tracker.Tracker, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || tr == nil {
		return nil, errors.New("daemon requires config and tracker")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	d := &Daemon{
		cfg:      cfg,
		tracker:  tr,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		opts:     opts,
		now:      now,
		lockPath: cfg.Daemon.LockPath,
		lock:     flock.New(cfg.Daemon.LockPath),
		jobs: map[string]*JobStatus{
			jobReconcile: {Name: jobReconcile, Interval: cfg.ReconcileInterval()},
			jobDiscovery: {Name: jobDiscovery, Interval: cfg.DiscoveryInterval()},
		},
	}
	d.dispatcher = notifications.NewDispatcher(opts.Notifier, notifications.DispatcherOptions{
		Enabled:   func() bool { return tr.Settings().Notifications },
		TitleName: d.titleName,
		Logger:    logger,
	})
	d.api = newAPIServer(cfg.Daemon.MetricsBind, d, opts.Gatherer, logger)
	return d, nil
}

// Start acquires the daemon lock, subscribes metrics and notifications to
// the tracker's bus and launches the schedulers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	bus := d.tracker.Bus()
	d.mu.Lock()
	d.startedAt = d.now()
	d.unsubs = append(d.unsubs, d.dispatcher.Attach(bus))
	if d.opts.Collector != nil {
		d.unsubs = append(d.unsubs, d.opts.Collector.Attach(bus))
	}
	d.mu.Unlock()

	d.ctx, d.cancel = runCtx, cancel
	d.running.Store(true)
	d.schedule(runCtx, jobReconcile, d.cfg.ReconcileInterval(), d.RunReconcile)
	d.schedule(runCtx, jobDiscovery, d.cfg.DiscoveryInterval(), d.RunDiscovery)

	d.logger.Info("tsundoku daemon started",
		logging.String("lock", d.lockPath),
		logging.Duration("reconcile_interval", d.cfg.ReconcileInterval()),
		logging.Duration("discovery_interval", d.cfg.DiscoveryInterval()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop cancels the schedulers, waits for running jobs and pending
// notifications, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.api.stop()

	d.mu.Lock()
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	d.mu.Unlock()
	d.dispatcher.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("tsundoku daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the tracker.
func (d *Daemon) Close() error {
	d.Stop()
	return d.tracker.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		LockFilePath:  d.lockPath,
		Settings:      d.tracker.Settings(),
		Titles:        d.tracker.Library().Len(),
		ReadyToWatch:  len(d.tracker.ReadyToWatch()),
		Announcements: d.tracker.Announcements().Len(),
		Errors:        len(d.tracker.Errors(0)),
	}
	d.mu.Lock()
	status.StartedAt = d.startedAt
	for _, name := range []string{jobReconcile, jobDiscovery} {
		status.Jobs = append(status.Jobs, *d.jobs[name])
	}
	d.mu.Unlock()
	return status
}

func (d *Daemon) titleName(id int64) string {
	if entry, ok := d.tracker.Get(id); ok {
		return entry.Title
	}
	return ""
}
