// Package metrics provides Prometheus metrics for monitoring the gateway.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts web operations by kind and outcome.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weblinq_operations_total",
			Help: "Total number of web operations processed",
		},
		[]string{"kind", "outcome"},
	)

	// OperationDuration tracks operation duration by kind.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weblinq_operation_duration_seconds",
			Help:    "Operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"kind"},
	)

	// SessionLeases counts pool leases by how the session was obtained.
	SessionLeases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weblinq_session_leases_total",
			Help: "Total session leases by source (reused, launched)",
		},
		[]string{"source"},
	)

	// SessionExhaustions counts fail-fast lease rejections.
	SessionExhaustions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weblinq_session_exhaustions_total",
			Help: "Total lease attempts rejected because the session quota was spent",
		},
	)

	// SessionsActive shows sessions currently held by this process.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weblinq_sessions_active",
			Help: "Browser sessions currently leased",
		},
	)

	// SearchEngineResults counts per-engine fetches by outcome.
	SearchEngineResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weblinq_search_engine_total",
			Help: "Search engine fetches by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	// SearchParserLayer counts which parser layer produced results.
	SearchParserLayer = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weblinq_search_parser_layer_total",
			Help: "Search result extractions by engine and parser layer",
		},
		[]string{"engine", "layer"},
	)

	// SearchDuration tracks end-to-end aggregation time.
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weblinq_search_duration_seconds",
			Help:    "Search aggregation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	// CreditOps counts ledger operations by action and outcome.
	CreditOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weblinq_credit_ops_total",
			Help: "Credit ledger operations by action (reserve, commit, refund) and outcome",
		},
		[]string{"action", "outcome"},
	)

	// ArtifactsStored counts persisted artifacts by kind.
	ArtifactsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weblinq_artifacts_stored_total",
			Help: "Artifacts written to object storage by kind",
		},
		[]string{"kind"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weblinq_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weblinq_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weblinq_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		SessionLeases,
		SessionExhaustions,
		SessionsActive,
		SearchEngineResults,
		SearchParserLayer,
		SearchDuration,
		CreditOps,
		ArtifactsStored,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordOperation records metrics for a completed web operation.
func RecordOperation(kind, outcome string, duration time.Duration) {
	OperationsTotal.WithLabelValues(kind, outcome).Inc()
	OperationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordLease records how a lease obtained its session.
func RecordLease(source string) {
	SessionLeases.WithLabelValues(source).Inc()
}

// RecordEngine records one engine fetch outcome.
func RecordEngine(engine, outcome string) {
	SearchEngineResults.WithLabelValues(engine, outcome).Inc()
}

// RecordParserLayer records which parser layer produced an engine's results.
func RecordParserLayer(engine, layer string) {
	SearchParserLayer.WithLabelValues(engine, layer).Inc()
}

// RecordCreditOp records one ledger action.
func RecordCreditOp(action, outcome string) {
	CreditOps.WithLabelValues(action, outcome).Inc()
}

// StartRuntimeCollector periodically updates process-level metrics until
// stopCh closes.
func StartRuntimeCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			MemoryUsageBytes.Set(float64(m.Alloc))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		case <-stopCh:
			return
		}
	}
}
