// Package metrics exposes Prometheus collectors for catalog requests, request
// cache lookups, pacing waits and engine runs.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tsundoku/internal/discovery"
	"tsundoku/internal/events"
	"tsundoku/internal/reconcile"
)

const namespace = "tsundoku"

// Collector implements catalog.Recorder, reqcache.Observer and
// pacing.Observer on top of Prometheus metrics.
type Collector struct {
	catalogRequests *prometheus.CounterVec
	catalogLatency  *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	pacingWait      prometheus.Histogram
	rateLimitRetry  *prometheus.CounterVec
	engineRuns      *prometheus.CounterVec
	engineItems     *prometheus.CounterVec
	engineDuration  *prometheus.HistogramVec
	engineLastRun   *prometheus.GaugeVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Live catalog requests by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		catalogLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_request_duration_seconds",
			Help:      "Latency of live catalog requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Request cache lookups by operation, result and tier.",
		}, []string{"op", "result", "tier"}),
		pacingWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pacing_wait_seconds",
			Help:      "Time a request waited for its pacing slot.",
			Buckets:   []float64{0, 0.5, 1, 2, 3, 5, 10, 30, 60},
		}),
		rateLimitRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_retries_total",
			Help:      "Backoff retries after a 429 response, by attempt.",
		}, []string{"attempt"}),
		engineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_runs_total",
			Help:      "Finished engine runs by engine and result.",
		}, []string{"engine", "result"}),
		engineItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_items_total",
			Help:      "Titles processed by engine runs, by outcome.",
		}, []string{"engine", "outcome"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_run_duration_seconds",
			Help:      "Wall time of engine runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"engine"}),
		engineLastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_last_run_timestamp_seconds",
			Help:      "Unix time the engine last finished a run.",
		}, []string{"engine"}),
	}

	reg.MustRegister(
		c.catalogRequests,
		c.catalogLatency,
		c.cacheLookups,
		c.pacingWait,
		c.rateLimitRetry,
		c.engineRuns,
		c.engineItems,
		c.engineDuration,
		c.engineLastRun,
	)
	return c
}

// ObserveRequest records one live catalog request.
func (c *Collector) ObserveRequest(op, outcome string, latency time.Duration) {
	c.catalogRequests.WithLabelValues(op, outcome).Inc()
	c.catalogLatency.WithLabelValues(op).Observe(latency.Seconds())
}

// CacheLookup records a request cache lookup.
func (c *Collector) CacheLookup(op string, hit bool, tier string) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(op, result, tier).Inc()
}

// RequestPaced records how long a request waited for its slot.
func (c *Collector) RequestPaced(wait time.Duration) {
	c.pacingWait.Observe(wait.Seconds())
}

// RateLimitRetry records a backoff retry.
func (c *Collector) RateLimitRetry(attempt int, _ time.Duration) {
	c.rateLimitRetry.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// Attach subscribes the collector to engine run summaries on bus.
func (c *Collector) Attach(bus *events.Bus) func() {
	return bus.Subscribe(c.handle)
}

func (c *Collector) handle(_ context.Context, evt events.Event) {
	switch evt.Kind {
	case events.ReconcileFinished:
		s, ok := evt.Data.(reconcile.Summary)
		if !ok {
			return
		}
		c.observeRun("reconcile", evt.Reason, s.Finished, s.Duration())
		c.addItems("reconcile", map[string]int{
			"completed": s.Completed,
			"updated":   s.Updated,
			"unchanged": s.Checked - s.Completed - s.Updated - s.Errored,
			"errored":   s.Errored,
			"skipped":   s.Skipped,
		})
	case events.DiscoveryFinished:
		s, ok := evt.Data.(discovery.Summary)
		if !ok {
			return
		}
		c.observeRun("discovery", evt.Reason, s.Finished, s.Duration())
		c.addItems("discovery", map[string]int{
			"scanned": s.Scanned,
			"found":   s.Found,
			"errored": s.Errored,
			"skipped": s.Skipped,
			"pruned":  s.Cleanup.Total(),
		})
	}
}

func (c *Collector) observeRun(engine, result string, finished time.Time, d time.Duration) {
	if result == "" {
		result = "ok"
	}
	c.engineRuns.WithLabelValues(engine, result).Inc()
	c.engineDuration.WithLabelValues(engine).Observe(d.Seconds())
	if !finished.IsZero() {
		c.engineLastRun.WithLabelValues(engine).Set(float64(finished.Unix()))
	}
}

func (c *Collector) addItems(engine string, counts map[string]int) {
	for outcome, n := range counts {
		if n > 0 {
			c.engineItems.WithLabelValues(engine, outcome).Add(float64(n))
		}
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewMux serves the scrape handler at /metrics.
func NewMux(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
