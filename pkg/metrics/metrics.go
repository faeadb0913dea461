// Package metrics provides Prometheus metrics for the sanctions engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sanctions"

// Metrics holds every collector the engine reports. A nil *Metrics is valid
// and records nothing, so components can be built without metrics in tests.
type Metrics struct {
	// Sync runs by status ("success", "failed", "rejected")
	SyncRuns *prometheus.CounterVec
	// Duration of sync runs, fetch through replace
	SyncDuration prometheus.Histogram
	// Entities in the store after the last successful sync
	StoredEntities prometheus.Gauge
	// Source records skipped by the parser
	SkippedRecords prometheus.Counter

	// Embeddings computed and failed during backfill
	EmbeddingsComputed prometheus.Counter
	EmbeddingsFailed   prometheus.Counter

	// Match stage outcomes by stage and outcome ("hit", "miss", "error", "skipped")
	MatchStageOutcomes *prometheus.CounterVec
	// End-to-end search latency
	MatchLatency prometheus.Histogram

	// Query-embedding cache lookups by result ("hit", "miss", "error")
	QueryCacheLookups *prometheus.CounterVec

	// HTTP requests by method, route pattern and status code
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total sanctions sync attempts by status",
		}, []string{"status"}),

		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of sanctions sync runs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		StoredEntities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "entities",
			Help:      "Sanctioned entities stored after the last successful sync",
		}),

		SkippedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "skipped_records_total",
			Help:      "Source records skipped because they could not be decoded",
		}),

		EmbeddingsComputed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embeddings",
			Name:      "computed_total",
			Help:      "Entity texts embedded by backfill",
		}),

		EmbeddingsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embeddings",
			Name:      "failed_total",
			Help:      "Entity texts whose embedding batch failed",
		}),

		MatchStageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "stage_outcomes_total",
			Help:      "Match stage outcomes by stage and outcome",
		}, []string{"stage", "outcome"}),

		MatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "search_duration_seconds",
			Help:      "Duration of sanctions searches including AI stages",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),

		QueryCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "lookups_total",
			Help:      "Query-embedding cache lookups by result",
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveSync records one sync attempt.
func (m *Metrics) ObserveSync(status string, d time.Duration) {
	if m != nil {
		m.SyncRuns.WithLabelValues(status).Inc()
		if d > 0 {
			m.SyncDuration.Observe(d.Seconds())
		}
	}
}

// SetStoredEntities records the size of the stored entity set.
func (m *Metrics) SetStoredEntities(n int) {
	if m != nil {
		m.StoredEntities.Set(float64(n))
	}
}

// AddSkippedRecords counts parser skips.
func (m *Metrics) AddSkippedRecords(n int) {
	if m != nil && n > 0 {
		m.SkippedRecords.Add(float64(n))
	}
}

// AddEmbeddings counts backfill results.
func (m *Metrics) AddEmbeddings(computed, failed int) {
	if m != nil {
		m.EmbeddingsComputed.Add(float64(computed))
		m.EmbeddingsFailed.Add(float64(failed))
	}
}

// IncrementStageOutcome records the outcome of one match stage.
func (m *Metrics) IncrementStageOutcome(stage, outcome string) {
	if m != nil {
		m.MatchStageOutcomes.WithLabelValues(stage, outcome).Inc()
	}
}

// ObserveMatchLatency records the total duration of a search.
func (m *Metrics) ObserveMatchLatency(d time.Duration) {
	if m != nil {
		m.MatchLatency.Observe(d.Seconds())
	}
}

// IncrementCacheLookup records a query-embedding cache lookup.
func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.QueryCacheLookups.WithLabelValues(result).Inc()
	}
}

// ObserveHTTPRequest records one served request. route must be a mux
// pattern, never a raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
	}
}
