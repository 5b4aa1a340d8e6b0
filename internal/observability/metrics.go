// Package observability holds the engine's metrics and logging setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the engine's Prometheus metrics: provider connection
// outcomes, tool dispatch, model requests, and loop terminations.
// Everything registers against the default registry and is served from
// /metrics.
type Metrics struct {
	// ConnectionAttempts counts provider connection attempts.
	// Labels: server, outcome (connected|failed)
	ConnectionAttempts *prometheus.CounterVec

	// ToolCallCounter counts dispatched tool calls.
	// Labels: tool_name, status (success|error|denied|timeout)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool dispatch latency in seconds.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model request latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LoopTerminations counts agent loop exits.
	// Labels: reason (completed|max_cycles|all_errors|cancelled)
	LoopTerminations *prometheus.CounterVec

	// InterceptedCalls counts tool calls recovered from plain text.
	// Labels: tool_name
	InterceptedCalls *prometheus.CounterVec

	// ConnectedServers is the current number of live provider sessions.
	ConnectedServers prometheus.Gauge

	// HTTPRequestCounter counts front-end requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures front-end request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmmind_connection_attempts_total",
				Help: "Provider connection attempts by server and outcome",
			},
			[]string{"server", "outcome"},
		),

		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmmind_tool_calls_total",
				Help: "Dispatched tool calls by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "farmmind_tool_call_duration_seconds",
				Help:    "Tool dispatch latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmmind_llm_requests_total",
				Help: "Model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "farmmind_llm_request_duration_seconds",
				Help:    "Model request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LoopTerminations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmmind_loop_terminations_total",
				Help: "Agent loop exits by reason",
			},
			[]string{"reason"},
		),

		InterceptedCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmmind_intercepted_calls_total",
				Help: "Tool calls recovered from plain assistant text",
			},
			[]string{"tool_name"},
		),

		ConnectedServers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "farmmind_connected_servers",
				Help: "Current number of live provider sessions",
			},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmmind_http_requests_total",
				Help: "Front-end HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "farmmind_http_request_duration_seconds",
				Help:    "Front-end HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordConnectionAttempt records one provider connection outcome.
func (m *Metrics) RecordConnectionAttempt(server, outcome string) {
	m.ConnectionAttempts.WithLabelValues(server, outcome).Inc()
}

// RecordToolCall records one dispatched tool call.
func (m *Metrics) RecordToolCall(toolName, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(toolName, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordLLMRequest records one model request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordLoopTermination records why an agent loop ended.
func (m *Metrics) RecordLoopTermination(reason string) {
	m.LoopTerminations.WithLabelValues(reason).Inc()
}

// RecordInterceptedCall records a textual intent recovery.
func (m *Metrics) RecordInterceptedCall(toolName string) {
	m.InterceptedCalls.WithLabelValues(toolName).Inc()
}

// RecordHTTPRequest records one front-end request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
