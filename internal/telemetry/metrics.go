// Package telemetry holds the Prometheus metrics and OpenTelemetry tracer
// shared by strategies, the agent and the LLM backends.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docsmith"

var (
	// StrategyRequests counts strategy invocations.
	// Labels: strategy, status (ok, error)
	StrategyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "strategy",
		Name:      "requests_total",
		Help:      "Strategy invocations by outcome",
	}, []string{"strategy", "status"})

	// StrategyDuration measures end-to-end strategy latency.
	StrategyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "strategy",
		Name:      "duration_seconds",
		Help:      "Strategy latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"strategy"})

	// ProviderCalls counts individual provider invocations.
	// Labels: provider, status (ok, error, timeout)
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Provider invocations by outcome",
	}, []string{"provider", "status"})

	// Retries counts retry attempts scheduled by the retry executor.
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Retries scheduled after a failed attempt",
	})

	// AgentIterations records planning iterations per agent run.
	AgentIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "iterations",
		Help:      "Planning iterations per agent run",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
	})

	// AgentLoops counts runs cut short by loop detection.
	AgentLoops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "loops_detected_total",
		Help:      "Agent runs finalized early because a tool call repeated",
	})

	// BatchDocuments counts batch documents by outcome.
	BatchDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "documents_total",
		Help:      "Batch documents processed by outcome",
	}, []string{"status"})

	// LLMTokens counts model tokens.
	// Labels: provider, model, direction (input, output)
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Model tokens consumed",
	}, []string{"provider", "model", "direction"})

	// LLMLatency measures model call latency.
	LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "Model call latency in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"provider", "status"})
)

// Status maps an error to the status label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
