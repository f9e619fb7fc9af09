package lexgo

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives operational metrics from the engine. It is a
// superset of the index manager's collector: any implementation here can
// be passed straight through to the manager.
type MetricsCollector interface {
	// RecordIndexed is called once per document indexed.
	RecordIndexed()
	// RecordFlush is called after each segment flush commit.
	RecordFlush(duration time.Duration)
	// RecordMerge is called after each tiered merge.
	RecordMerge(duration time.Duration)
	// SetActiveSegments reports the active segment count.
	SetActiveSegments(n int)
	// RecordSearch is called after each query with its latency and
	// result count; err is nil on success.
	RecordSearch(duration time.Duration, hits int, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIndexed()                         {}
func (NoopMetricsCollector) RecordFlush(time.Duration)              {}
func (NoopMetricsCollector) RecordMerge(time.Duration)              {}
func (NoopMetricsCollector) SetActiveSegments(int)                  {}
func (NoopMetricsCollector) RecordSearch(time.Duration, int, error) {}

// BasicMetricsCollector keeps simple in-memory counters. Useful for tests
// and debugging without an external metrics system.
type BasicMetricsCollector struct {
	DocsIndexed      atomic.Int64
	Flushes          atomic.Int64
	FlushTotalNanos  atomic.Int64
	Merges           atomic.Int64
	MergeTotalNanos  atomic.Int64
	Searches         atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	ActiveSegments   atomic.Int64
}

func (c *BasicMetricsCollector) RecordIndexed() { c.DocsIndexed.Add(1) }

func (c *BasicMetricsCollector) RecordFlush(d time.Duration) {
	c.Flushes.Add(1)
	c.FlushTotalNanos.Add(int64(d))
}

func (c *BasicMetricsCollector) RecordMerge(d time.Duration) {
	c.Merges.Add(1)
	c.MergeTotalNanos.Add(int64(d))
}

func (c *BasicMetricsCollector) SetActiveSegments(n int) {
	c.ActiveSegments.Store(int64(n))
}

func (c *BasicMetricsCollector) RecordSearch(d time.Duration, hits int, err error) {
	c.Searches.Add(1)
	c.SearchTotalNanos.Add(int64(d))
	if err != nil {
		c.SearchErrors.Add(1)
	}
}

// PrometheusCollector exports engine metrics as Prometheus collectors.
type PrometheusCollector struct {
	docsIndexed    prometheus.Counter
	flushes        prometheus.Counter
	flushLatency   prometheus.Histogram
	merges         prometheus.Counter
	mergeLatency   prometheus.Histogram
	searches       *prometheus.CounterVec
	searchLatency  prometheus.Histogram
	searchResults  prometheus.Histogram
	activeSegments prometheus.Gauge
}

// NewPrometheusCollector creates and registers the engine's collectors on
// reg (the default registerer when nil).
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{
		docsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lexgo_docs_indexed_total",
			Help: "Total number of documents indexed.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lexgo_segment_flushes_total",
			Help: "Total number of memory segment flushes.",
		}),
		flushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexgo_flush_duration_seconds",
			Help:    "Segment flush commit latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lexgo_segment_merges_total",
			Help: "Total number of tiered merges.",
		}),
		mergeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexgo_merge_duration_seconds",
			Help:    "Tiered merge latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexgo_searches_total",
			Help: "Total search queries by outcome (ok, zero_result, error).",
		}, []string{"outcome"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexgo_search_duration_seconds",
			Help:    "Search latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexgo_search_results",
			Help:    "Number of results returned per query.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		activeSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lexgo_active_segments",
			Help: "Number of segments in the active set.",
		}),
	}
	reg.MustRegister(
		c.docsIndexed, c.flushes, c.flushLatency,
		c.merges, c.mergeLatency,
		c.searches, c.searchLatency, c.searchResults,
		c.activeSegments,
	)
	return c
}

func (c *PrometheusCollector) RecordIndexed() { c.docsIndexed.Inc() }

func (c *PrometheusCollector) RecordFlush(d time.Duration) {
	c.flushes.Inc()
	c.flushLatency.Observe(d.Seconds())
}

func (c *PrometheusCollector) RecordMerge(d time.Duration) {
	c.merges.Inc()
	c.mergeLatency.Observe(d.Seconds())
}

func (c *PrometheusCollector) SetActiveSegments(n int) {
	c.activeSegments.Set(float64(n))
}

func (c *PrometheusCollector) RecordSearch(d time.Duration, hits int, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case hits == 0:
		outcome = "zero_result"
	}
	c.searches.WithLabelValues(outcome).Inc()
	c.searchLatency.Observe(d.Seconds())
	c.searchResults.Observe(float64(hits))
}
