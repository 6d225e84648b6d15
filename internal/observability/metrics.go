package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueryRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "query_request_duration_seconds",
			Help:    "Gateway query duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2.5},
		},
		[]string{"operation", "source", "status"},
	)

	QueryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_requests_total",
			Help: "Total number of gateway queries",
		},
		[]string{"operation", "status"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"operation"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"operation"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_entries",
			Help: "Number of entries currently held in the response cache",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_evictions_total",
			Help: "Total number of expired entries removed by sweeps",
		},
	)

	ESRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "es_request_duration_seconds",
			Help:    "Elasticsearch request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	CHQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ch_query_duration_seconds",
			Help:    "ClickHouse query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"query_type", "status"},
	)

	CatalogFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_fetch_duration_seconds",
			Help:    "Catalog source fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"status"},
	)

	ReindexRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reindex_runs_total",
			Help: "Total number of reindex passes by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	ReindexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reindex_duration_seconds",
			Help:    "Duration of completed reindex passes",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ReindexDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reindex_documents_total",
			Help: "Catalog records seen by reindex passes",
		},
		[]string{"outcome"},
	)

	ReindexInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reindex_in_progress",
			Help: "1 while a reindex pass is running in this process",
		},
	)

	LastReindexTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reindex_last_success_timestamp_seconds",
			Help: "Unix time of the last reindex pass that wrote documents",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SlowQueryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_query_total",
			Help: "Total number of slow queries",
		},
		[]string{"severity", "query_type"},
	)

	DegradedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_degraded_total",
			Help: "Queries answered with an empty result because the engine was unavailable",
		},
		[]string{"operation"},
	)

	KafkaTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_reindex_triggers_total",
			Help: "Catalog change events by trigger outcome",
		},
		[]string{"outcome"},
	)

	ESClusterHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "es_cluster_health_status",
			Help: "1 for the current ES cluster health color, 0 otherwise",
		},
		[]string{"color"},
	)
)
