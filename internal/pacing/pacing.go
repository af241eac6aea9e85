// Package pacing spends the single remote request budget shared by status
// reconciliation and announcement discovery.
//
// A Pacer serializes every paced call, enforces a minimum spacing between
// calls plus an optional token-bucket ceiling, and retries rate-limited calls
// according to a BackoffPolicy. Both engines receive the same Pacer so their
// traffic can never add up past the catalog's limit.
package pacing

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tsundoku/internal/config"
	"tsundoku/internal/logging"
	"tsundoku/internal/services"
)

// BackoffPolicy describes bounded exponential retry after a rate-limit response.
type BackoffPolicy struct {
	Base        time.Duration
	Multiplier  float64
	MaxAttempts int
	// Max caps a single delay; zero means no cap.
	Max time.Duration
}

// DefaultBackoff retries twice, waiting 15s then 30s.
var DefaultBackoff = BackoffPolicy{Base: 15 * time.Second, Multiplier: 2, MaxAttempts: 2, Max: 2 * time.Minute}

// Delay returns the wait before retry number attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := time.Duration(float64(p.Base) * math.Pow(multiplier, float64(attempt-1)))
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observer receives pacing events, typically for metrics.
type Observer interface {
	RequestPaced(wait time.Duration)
	RateLimitRetry(attempt int, delay time.Duration)
}

// Options configures a Pacer.
type Options struct {
	RequestInterval time.Duration
	BatchInterval   time.Duration
	BatchSize       int
	Backoff         BackoffPolicy
	// RequestsPerMinute adds a token-bucket ceiling; zero disables it.
	RequestsPerMinute float64
	Now               func() time.Time
	Sleep             Sleeper
	Logger            *slog.Logger
	Observer          Observer
}

// OptionsFromConfig maps the [pacing] config section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Pacing
	return Options{
		RequestInterval: time.Duration(p.RequestIntervalMillis) * time.Millisecond,
		BatchInterval:   time.Duration(p.BatchIntervalMillis) * time.Millisecond,
		BatchSize:       p.BatchSize,
		Backoff: BackoffPolicy{
			Base:        time.Duration(p.BackoffBaseMillis) * time.Millisecond,
			Multiplier:  p.BackoffMultiplier,
			MaxAttempts: p.BackoffMaxAttempts,
			Max:         DefaultBackoff.Max,
		},
		RequestsPerMinute: p.RequestsPerMinute,
	}
}

// Pacer is safe for concurrent use; callers queue behind one another.
type Pacer struct {
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	lastCall time.Time
}

// New builds a Pacer.
func New(opts Options) *Pacer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepWithContext
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	p := &Pacer{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "pacing")}
	if opts.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}
	return p
}

// Policy returns the backoff policy in effect.
func (p *Pacer) Policy() BackoffPolicy { return p.opts.Backoff }

// BatchSize returns how many entries an engine processes between batch pauses.
func (p *Pacer) BatchSize() int { return p.opts.BatchSize }

// Do runs fn as one paced remote request. Rate-limited failures are retried up
// to the policy's MaxAttempts; any other error, or exhaustion, is returned.
func (p *Pacer) Do(ctx context.Context, fn func(context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if err := p.waitForWindow(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		p.lastCall = p.opts.Now()
		if err == nil {
			return nil
		}
		if !services.IsRetriable(err) || attempt >= p.opts.Backoff.MaxAttempts {
			return err
		}
		delay := p.opts.Backoff.Delay(attempt + 1)
		logging.WithContext(ctx, p.logger).Warn("catalog rate limited, retrying",
			logging.Duration("backoff", delay),
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", p.opts.Backoff.MaxAttempts),
			logging.Error(err),
			logging.String(logging.FieldEventType, "catalog_rate_limited"),
			logging.String(logging.FieldErrorHint, "the catalog is throttling requests; the entry is retried after the backoff"),
			logging.String(logging.FieldImpact, "engine run slows down"),
		)
		if p.opts.Observer != nil {
			p.opts.Observer.RateLimitRetry(attempt+1, delay)
		}
		if err := p.opts.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// BatchPause waits the inter-batch delay.
func (p *Pacer) BatchPause(ctx context.Context) error {
	return p.opts.Sleep(ctx, p.opts.BatchInterval)
}

func (p *Pacer) waitForWindow(ctx context.Context) error {
	var wait time.Duration
	if !p.lastCall.IsZero() {
		wait = p.lastCall.Add(p.opts.RequestInterval).Sub(p.opts.Now())
	}
	if wait > 0 {
		if err := p.opts.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if p.opts.Observer != nil {
		p.opts.Observer.RequestPaced(max(wait, 0))
	}
	return nil
}

// Batches splits items into consecutive groups of at most size.
func Batches[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}
