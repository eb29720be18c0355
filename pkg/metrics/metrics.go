// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsAppended tracks events written to the event log.
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventlog_events_appended_total",
			Help: "Events appended to the event log",
		},
		[]string{"event_type"},
	)

	// EventsPushed tracks events delivered to live subscribers.
	EventsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_events_pushed_total",
			Help: "Events pushed to live subscribers",
		},
	)

	// CatchupReads tracks catch-up reads against the event log.
	CatchupReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventlog_catchup_reads_total",
			Help: "Catch-up reads performed against the event log",
		},
	)

	// NotificationsPublished tracks change notifications published.
	NotificationsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_notifications_published_total",
			Help: "Change notifications published",
		},
	)

	// NotificationsDropped tracks notifications dropped on publish or fan-in.
	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_notifications_dropped_total",
			Help: "Change notifications dropped",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// EpisodesTotal tracks generation episodes by outcome.
	EpisodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_episodes_total",
			Help: "Generation episodes by outcome",
		},
		[]string{"outcome"},
	)

	// EpisodeRounds tracks model rounds per episode.
	EpisodeRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_episode_rounds",
			Help:    "Model rounds per generation episode",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 12},
		},
	)

	// ToolCallsTotal tracks tool calls by tool name and status.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tool_calls_total",
			Help: "Tool calls by name and status",
		},
		[]string{"tool", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
