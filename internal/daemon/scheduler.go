package daemon

import (
	"context"
	"errors"
	"time"

	"tsundoku/internal/discovery"
	"tsundoku/internal/logging"
	"tsundoku/internal/reconcile"
	"tsundoku/internal/services"
)

const (
	jobReconcile = "reconcile"
	jobDiscovery = "discovery"
)

// schedule runs job once after the startup delay and then every interval
// until ctx is canceled.
func (d *Daemon) schedule(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(d.opts.StartupDelay)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			if err := job(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(d.logger, "scheduled job failed", "daemon_job_failed",
					logging.String("job", name),
					logging.String(logging.FieldErrorKind, services.Kind(err)),
					logging.Error(err),
					logging.String(logging.FieldImpact, "the job runs again at its next interval"),
				)
			}
			timer.Reset(interval)
		}
	}()
}

// RunReconcile runs status reconciliation unless the user turned automatic
// status checks off.
func (d *Daemon) RunReconcile(ctx context.Context) error {
	if !d.tracker.Settings().AutoStatusCheck {
		d.skip(jobReconcile)
		return nil
	}
	return d.track(jobReconcile, func() error {
		_, err := d.tracker.Reconcile(ctx)
		if errors.Is(err, reconcile.ErrAlreadyRunning) {
			return nil
		}
		return err
	})
}

// RunDiscovery runs announcement discovery unless the user turned automatic
// announcement checks off, then library maintenance and a cache sweep.
// Maintenance runs either way.
func (d *Daemon) RunDiscovery(ctx context.Context) error {
	return d.track(jobDiscovery, func() error {
		var errs []error
		if d.tracker.Settings().AutoAnnouncements {
			if _, err := d.tracker.Discover(ctx); err != nil && !errors.Is(err, discovery.ErrAlreadyRunning) {
				errs = append(errs, err)
			}
		} else {
			d.logger.Debug("announcement discovery disabled by settings")
		}
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
		d.maintain(ctx)
		return errors.Join(errs...)
	})
}

// maintain fills missing durations and posters and sweeps the request cache.
// Failures are logged only.
func (d *Daemon) maintain(ctx context.Context) {
	if _, err := d.tracker.RefreshDurations(ctx, 0); err != nil && !errors.Is(err, reconcile.ErrAlreadyRunning) {
		d.logger.Warn("duration refresh failed", logging.Error(err))
	}
	if _, err := d.tracker.RestoreMissingPosters(ctx, 0); err != nil && !errors.Is(err, reconcile.ErrAlreadyRunning) {
		d.logger.Warn("poster restore failed", logging.Error(err))
	}
	if removed, err := d.tracker.SweepCache(ctx); err != nil {
		d.logger.Warn("cache sweep failed", logging.Error(err))
	} else if removed > 0 {
		d.logger.Debug("cache swept", logging.Int("removed", removed))
	}
}

func (d *Daemon) track(name string, fn func() error) error {
	d.mu.Lock()
	job := d.jobs[name]
	job.Running = true
	d.mu.Unlock()

	err := fn()

	d.mu.Lock()
	job.Running = false
	job.Skipped = false
	job.Runs++
	job.LastRun = d.now()
	job.LastError = ""
	if err != nil {
		job.LastError = services.Summary(err)
	}
	d.mu.Unlock()
	return err
}

func (d *Daemon) skip(name string) {
	d.mu.Lock()
	job := d.jobs[name]
	job.Skipped = true
	job.LastRun = d.now()
	d.mu.Unlock()
	d.logger.Debug("scheduled job disabled by settings", logging.String("job", name))
}
