// Package metrics provides Prometheus metrics for the turn pipeline:
// turn counts and latency, LLM dispatch, memory retrieval, and the post-turn
// extraction job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hearth"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 3.0, 5.0, 10.0, 20.0, 30.0, 60.0, 120.0,
}

var (
	// TurnsTotal counts completed turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of processed turns",
		},
		[]string{"outcome"},
	)

	// TurnsDenied counts turns rejected before dispatch.
	TurnsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_denied_total",
			Help:      "Turns rejected before LLM dispatch",
		},
		[]string{"reason"},
	)

	// TurnLatency tracks end-to-end turn latency.
	TurnLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency in seconds",
			Buckets:   LatencyBuckets,
		},
	)

	// LLMLatency tracks primary completion call latency by provider.
	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "LLM completion call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// RetrievalLatency tracks memory retrieval latency (embedding + search).
	RetrievalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_retrieval_latency_seconds",
			Help:      "Memory retrieval latency in seconds",
			Buckets:   LatencyBuckets,
		},
	)

	// EmbeddingFailures counts embedding calls that degraded to no context.
	EmbeddingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Embedding calls that failed and degraded to empty context",
		},
	)

	// ExtractionJobs counts post-turn extraction jobs by outcome.
	ExtractionJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_jobs_total",
			Help:      "Post-turn extraction jobs by outcome",
		},
		[]string{"outcome"},
	)

	// EntitiesExtracted counts profile graph entities written by extraction.
	EntitiesExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_extracted_total",
			Help:      "Profile graph entities written by extraction jobs",
		},
	)
)

// Turn outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	ReasonRateLimit = "rate_limit"
	ReasonAccess    = "access_denied"
)
