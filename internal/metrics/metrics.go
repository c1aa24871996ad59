package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scry",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"mode", "outcome"}, // outcome: "ok" / "degraded" / "error"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scry",
			Name:      "search_duration_seconds",
			Help:      "Search request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"},
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scry",
			Name:      "search_cache_total",
			Help:      "Search cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	SearchBranchDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scry",
			Name:      "search_branch_degraded_total",
			Help:      "Retrieval branches that failed and were served around",
		},
		[]string{"branch"}, // "semantic" / "keyword"
	)
)

// Embedding Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scry",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding provider requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scry",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	EmbeddingBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scry",
			Name:      "embedding_batch_size",
			Help:      "Number of texts per embedding provider request",
			Buckets:   []float64{1, 2, 4, 8, 16},
		},
	)
)

// Indexing and backfill Prometheus metrics.
var (
	IndexJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scry",
			Name:      "index_jobs_total",
			Help:      "Index jobs processed by terminal status",
		},
		[]string{"status"}, // "completed" / "failed" / "retried"
	)

	BackfillItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scry",
			Name:      "backfill_items_total",
			Help:      "Backfill items by result",
		},
		[]string{"result"}, // "processed" / "failed" / "skipped"
	)
)

var registered bool

// Register registers all Prometheus metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchCacheTotal)
	prometheus.MustRegister(SearchBranchDegradedTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingBatchSize)
	prometheus.MustRegister(IndexJobsTotal)
	prometheus.MustRegister(BackfillItemsTotal)
	registered = true
}
