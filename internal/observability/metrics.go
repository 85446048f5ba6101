package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance and response times across providers
//   - Tool execution patterns and latencies
//   - Sandbox execution outcomes
//   - Error rates categorized by type and component
//   - Active agent session counts
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.LLMRequestDuration.WithLabelValues("anthropic", "claude-sonnet-4").Observe(time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_write)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks accumulated cost in USD, mirroring the monotonic
	// usage.cost.total an agent run accumulates.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// SandboxExecutionCounter counts sandbox runs by outcome.
	// Labels: outcome (success|error|timeout|aborted)
	SandboxExecutionCounter *prometheus.CounterVec

	// SandboxExecutionDuration measures sandbox wall-clock time in seconds.
	SandboxExecutionDuration prometheus.Histogram

	// ErrorCounter tracks errors by type and component.
	// Labels: component (agent|provider|tool|sandbox|session), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveRuns is a gauge tracking currently running agent loops.
	ActiveRuns prometheus.Gauge

	// RunDuration measures the wall-clock duration of a full agent run.
	RunDuration prometheus.Histogram

	// HTTPRequestDuration measures HTTP API request latency (the C15 serve command).
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// ContextWindowUsed tracks context window utilization.
	// Labels: provider, model
	ContextWindowUsed *prometheus.HistogramVec

	// RunAttempts counts run attempts by status, for retry/failover tracking.
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and are served at /metrics by the C15 `serve` command.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_cost_usd_total",
				Help: "Accumulated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool_name"},
		),

		SandboxExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_sandbox_executions_total",
				Help: "Total number of sandbox executions by outcome",
			},
			[]string{"outcome"},
		),

		SandboxExecutionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_sandbox_execution_duration_seconds",
				Help:    "Duration of sandbox executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_runs",
				Help: "Current number of in-flight agent loop runs",
			},
		),

		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_run_duration_seconds",
				Help:    "Duration of a full agent run (prompt to agent_end) in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_context_window_tokens",
				Help:    "Context window tokens used per completion request",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_run_attempts_total",
				Help: "Total number of run attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordSandboxExecution records metrics for a sandbox execution.
func (m *Metrics) RecordSandboxExecution(outcome string, durationSeconds float64) {
	m.SandboxExecutionCounter.WithLabelValues(outcome).Inc()
	m.SandboxExecutionDuration.Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RunStarted increments the active-runs gauge.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active-runs gauge and records the run's duration.
func (m *Metrics) RunEnded(durationSeconds float64) {
	m.ActiveRuns.Dec()
	m.RunDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordLLMCost records accumulated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRunAttempt records a run attempt.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
