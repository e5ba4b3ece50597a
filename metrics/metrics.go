// Package metrics exposes prometheus collectors for loader activity.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// Collector groups the federation metrics.
type Collector struct {
	fetchTotal      *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	cacheHits       prometheus.Counter
	executionsTotal *prometheus.CounterVec
	mismatchTotal   *prometheus.CounterVec
	importsTotal    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federation_fetch_total",
				Help: "Number of bundle fetches by result.",
			},
			[]string{"result"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "federation_fetch_duration_seconds",
				Help:    "Time taken to fetch a bundle.",
				Buckets: prometheus.DefBuckets,
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "federation_cache_hits_total",
				Help: "Number of bundle loads served from a ready cache entry.",
			},
		),
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federation_executions_total",
				Help: "Number of container bundle evaluations by result.",
			},
			[]string{"result"},
		),
		mismatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federation_version_mismatch_total",
				Help: "Number of shared singleton version mismatches by dependency.",
			},
			[]string{"name"},
		),
		importsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "federation_imports_total",
				Help: "Number of ImportModule calls by result.",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			c.fetchTotal,
			c.fetchDuration,
			c.cacheHits,
			c.executionsTotal,
			c.mismatchTotal,
			c.importsTotal,
		)
	}
	return c
}

func (c *Collector) Fetch(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetchTotal.WithLabelValues(result).Inc()
	c.fetchDuration.Observe(d.Seconds())
}

func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

func (c *Collector) Execution(result string) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) VersionMismatch(name string) {
	if c == nil {
		return
	}
	c.mismatchTotal.WithLabelValues(name).Inc()
}

func (c *Collector) Import(result string) {
	if c == nil {
		return
	}
	c.importsTotal.WithLabelValues(result).Inc()
}

// Result maps an error to a result label.
func Result(err error) string {
	if err == nil {
		return ResultOK
	}
	return ResultError
}
