package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_ingest_documents_total",
			Help: "Total documents ingested by outcome",
		},
		[]string{"status"},
	)

	IngestChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wargame_rag_ingest_chunks_total",
			Help: "Total chunks written to the index",
		},
	)

	IngestDocumentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wargame_rag_ingest_document_duration_seconds",
			Help:    "Per-document ingest duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wargame_rag_search_duration_seconds",
			Help:    "Search duration in seconds by source",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)

	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_search_total",
			Help: "Total searches by source and status",
		},
		[]string{"source", "status"},
	)

	SearchResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wargame_rag_search_results_count",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_tool_calls_total",
			Help: "Total tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wargame_rag_tool_call_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	CircuitBreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wargame_rag_circuit_breaker_open",
			Help: "1 when the named tool's breaker is open",
		},
		[]string{"tool"},
	)

	MemoryOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_memory_ops_total",
			Help: "Total memory operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	QuotaRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wargame_rag_quota_rejections_total",
			Help: "Total memory writes rejected by the daily quota",
		},
	)

	ConsolidationEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_consolidation_evictions_total",
			Help: "Total memories evicted or merged by the consolidator",
		},
		[]string{"reason"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wargame_rag_sessions_total",
			Help: "Total orchestration sessions by final status",
		},
		[]string{"status"},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wargame_rag_session_duration_seconds",
			Help:    "Orchestration session duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

func Init() {
	prometheus.MustRegister(IngestDocumentsTotal)
	prometheus.MustRegister(IngestChunksTotal)
	prometheus.MustRegister(IngestDocumentDuration)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchTotal)
	prometheus.MustRegister(SearchResultsCount)
	prometheus.MustRegister(ToolCallsTotal)
	prometheus.MustRegister(ToolCallDuration)
	prometheus.MustRegister(CircuitBreakerOpen)
	prometheus.MustRegister(MemoryOpsTotal)
	prometheus.MustRegister(QuotaRejectionsTotal)
	prometheus.MustRegister(ConsolidationEvictionsTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionDuration)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
