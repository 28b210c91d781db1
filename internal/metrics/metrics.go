// Package metrics centralizes the Prometheus collectors exposed by the
// orchestration core: classification outcomes, tool-call latency, approval
// outcomes, and the HTTP/SSE front door's own request metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector this repo registers. Construct one with
// New and pass it down explicitly (no package-level globals), consistent
// with §9's "no ambient singletons" design note.
type Metrics struct {
	// ClassificationCounter counts intent classifications.
	// Labels: intent (QA|SIMPLE_TASK|MEDIUM|HIGH), routing_mode (conversational|workflow)
	ClassificationCounter *prometheus.CounterVec

	// ToolInvocationDuration measures MCP tool-call latency in seconds.
	// Labels: tool_name, status (ok|error)
	ToolInvocationDuration *prometheus.HistogramVec

	// ToolInvocationCounter counts tool invocations.
	// Labels: tool_name, status (ok|error)
	ToolInvocationCounter *prometheus.CounterVec

	// ApprovalGateCounter counts approval_gate outcomes.
	// Labels: decision (approve|reject|expired)
	ApprovalGateCounter *prometheus.CounterVec

	// HTTPRequestDuration measures front-door request latency.
	// Labels: route, method, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// SSEStreamsActive gauges the number of currently open SSE streams.
	SSEStreamsActive prometheus.Gauge
}

// New registers and returns a fresh Metrics bundle against the default
// Prometheus registry, mirroring promauto's "declare once at startup"
// idiom used throughout the pack.
func New() *Metrics {
	return &Metrics{
		ClassificationCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_classification_total",
			Help: "Intent classifications by intent and routing mode.",
		}, []string{"intent", "routing_mode"}),

		ToolInvocationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_tool_invocation_duration_seconds",
			Help:    "MCP tool invocation latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool_name", "status"}),

		ToolInvocationCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tool_invocation_total",
			Help: "MCP tool invocations by outcome.",
		}, []string{"tool_name", "status"}),

		ApprovalGateCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_approval_gate_total",
			Help: "approval_gate outcomes.",
		}, []string{"decision"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_http_request_duration_seconds",
			Help:    "HTTP/SSE front door request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route", "method", "status_code"}),

		SSEStreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_sse_streams_active",
			Help: "Number of currently open SSE streams.",
		}),
	}
}
