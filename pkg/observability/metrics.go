// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the probforge service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for text-generation latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// SandboxBuckets covers sandbox executions from 10ms to 30s.
var SandboxBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probforge_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of active SSE progress streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "probforge_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// JobsTotal counts finished generation jobs by terminal status.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_jobs_total",
			Help: "Generation jobs by terminal status",
		},
		[]string{"status"},
	)

	// JobsInFlight tracks generation jobs currently running.
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "probforge_jobs_in_flight",
			Help: "Generation jobs in flight",
		},
	)

	// StageAttemptsTotal counts stage attempts by stage and outcome.
	StageAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_stage_attempts_total",
			Help: "Pipeline stage attempts",
		},
		[]string{"stage", "outcome"},
	)

	// StageDuration records the duration of single stage attempts.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probforge_stage_attempt_duration_seconds",
			Help:    "Pipeline stage attempt duration",
			Buckets: LLMBuckets,
		},
		[]string{"stage"},
	)

	// ObserverFailuresTotal counts checkpoint or progress failures swallowed
	// by the stage runner.
	ObserverFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_stage_observer_failures_total",
			Help: "Failed stage checkpoints",
		},
		[]string{"stage"},
	)

	// GeneratorRequestsTotal counts requests sent to the text-generation backend.
	GeneratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_generator_requests_total",
			Help: "Generator requests",
		},
		[]string{"task", "model", "result"},
	)

	// GeneratorLatency records text-generation latency in seconds.
	GeneratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probforge_generator_latency_seconds",
			Help:    "Generator latency",
			Buckets: LLMBuckets,
		},
		[]string{"task", "model"},
	)

	// GeneratorTokensTotal counts tokens processed by direction (input/output).
	GeneratorTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_generator_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)

	// SandboxExecutionsTotal counts sandbox executions by classified result.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_sandbox_executions_total",
			Help: "Sandbox executions",
		},
		[]string{"result"},
	)

	// SandboxLatency records round-trip sandbox execution latency.
	SandboxLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probforge_sandbox_latency_seconds",
			Help:    "Sandbox latency",
			Buckets: SandboxBuckets,
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probforge_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		JobsTotal,
		JobsInFlight,
		StageAttemptsTotal,
		StageDuration,
		ObserverFailuresTotal,
		GeneratorRequestsTotal,
		GeneratorLatency,
		GeneratorTokensTotal,
		SandboxExecutionsTotal,
		SandboxLatency,
		RateLimitRejectedTotal,
	)
}
