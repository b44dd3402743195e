package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	EmbeddingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_embeddings_total",
			Help: "Total number of embeddings produced, by source (remote, fallback, cache).",
		},
		[]string{"source"},
	)

	MemoriesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_memories_stored_total",
			Help: "Total number of memory records appended.",
		},
	)

	MemoryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_memory_errors_total",
			Help: "Total number of failed memory operations.",
		},
		[]string{"op"},
	)

	MemorySearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_memory_search_duration_seconds",
			Help:    "Memory search latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_turns_total",
			Help: "Total number of conversation turns, by outcome (ok, apology).",
		},
		[]string{"outcome"},
	)

	ContextTruncationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recall_context_truncations_total",
			Help: "Total number of conversation context truncations.",
		},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_rate_limited_total",
			Help: "Total number of rejected requests due to rate limiting.",
		},
		[]string{"scope"},
	)

	ChatConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recall_chat_connections",
			Help: "Number of open WebSocket chat connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EmbeddingsTotal,
		MemoriesStoredTotal,
		MemoryErrorsTotal,
		MemorySearchDuration,
		TurnsTotal,
		ContextTruncationsTotal,
		RateLimitedTotal,
		ChatConnections,
	)
}
