// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the ingestion pipeline:
// - Feed polling and publisher-domain sharding
// - Redirect-link resolution
// - Pipeline stages (classify, download, extract, dedup, enrich)
// - LLM calls per role, with schema-retry accounting
// - Database query performance (DuckDB)
// - API endpoint latency and throughput
// - WebSocket connections

var (
	// Feed Metrics
	FeedPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_polls_total",
			Help: "Total number of feed polls",
		},
		[]string{"locality", "result"}, // result: "success", "error"
	)

	FeedPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_poll_duration_seconds",
			Help:    "Duration of one full feed polling cycle in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	FeedItemsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_items_fetched_total",
			Help: "Total number of feed items fetched",
		},
	)

	FeedItemsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_items_inserted_total",
			Help: "Total number of new sources inserted (duplicates excluded)",
		},
	)

	FeedResultLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_result_limit_hits_total",
			Help: "Times a locality's response came back at the aggregator cap",
		},
		[]string{"locality"},
	)

	FeedShardedLocalities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_sharded_localities",
			Help: "Current number of localities polled with publisher-domain sharding",
		},
	)

	// Resolver Metrics
	ResolverResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_resolutions_total",
			Help: "Total number of redirect-link resolutions",
		},
		[]string{"method", "result"}, // method: "local", "remote", "passthrough"
	)

	ResolverDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolver_duration_seconds",
			Help:    "Duration of redirect-link resolution in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Pipeline Stage Metrics
	StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_runs_total",
			Help: "Total number of pipeline stage runs",
		},
		[]string{"stage", "result"}, // result: "success", "error", "skipped"
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stage runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"stage"},
	)

	StageItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_items_total",
			Help: "Total number of items processed per stage and outcome",
		},
		[]string{"stage", "outcome"}, // outcome: "success", "failure", "discarded", "released"
	)

	StageLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_stage_last_success_timestamp",
			Help: "Unix timestamp of the last successful stage run",
		},
		[]string{"stage"},
	)

	SourcesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sources_by_status",
			Help: "Current number of sources per pipeline status",
		},
		[]string{"status"},
	)

	// LLM Metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM calls",
		},
		[]string{"role", "result"}, // role: "classification", "extraction", "match", "cluster", "enrichment"
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Duration of LLM calls in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"role"},
	)

	LLMSchemaRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_schema_retries_total",
			Help: "Total number of retries caused by schema-invalid responses",
		},
		[]string{"role"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_used_total",
			Help: "Total number of tokens consumed",
		},
		[]string{"role", "kind"}, // kind: "prompt", "completion"
	)

	// Dedup Metrics
	DedupDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_decisions_total",
			Help: "Total number of dedup decisions",
		},
		[]string{"phase", "decision"}, // phase: "match", "cluster", "post_pass"; decision: "matched", "no_match", "merged", "fallback"
	)

	DedupUniqueEventsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_unique_events_created_total",
			Help: "Total number of canonical incidents created",
		},
	)

	DedupCandidatesPerEvent = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dedup_candidates_per_event",
			Help:    "Number of candidate incidents shortlisted per raw event",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
	)

	// Geocoder Metrics
	GeocodeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_requests_total",
			Help: "Total number of geocoding requests",
		},
		[]string{"result"}, // "ok", "zero_results", "error"
	)

	GeocodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geocode_duration_seconds",
			Help:    "Duration of geocoding requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Article Download Metrics
	ArticleDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "article_downloads_total",
			Help: "Total number of article downloads",
		},
		[]string{"result"}, // "ok", "http_error", "too_short", "timeout"
	)

	ArticleContentLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "article_content_length_chars",
			Help:    "Length of extracted article text in characters",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 25000, 50000},
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Event Bus Metrics
	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total number of messages published on the in-process bus",
		},
		[]string{"topic"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordStageRun records one pipeline stage run and its item outcomes
func RecordStageRun(stage string, duration time.Duration, succeeded, failed int, err error) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	StageItemsProcessed.WithLabelValues(stage, "success").Add(float64(succeeded))
	StageItemsProcessed.WithLabelValues(stage, "failure").Add(float64(failed))
	if err != nil {
		StageRunsTotal.WithLabelValues(stage, "error").Inc()
		return
	}
	StageRunsTotal.WithLabelValues(stage, "success").Inc()
	StageLastSuccess.WithLabelValues(stage).Set(float64(time.Now().Unix()))
}

// RecordLLMRequest records one LLM call
func RecordLLMRequest(role, result string, duration time.Duration) {
	LLMRequestsTotal.WithLabelValues(role, result).Inc()
	LLMRequestDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordLLMUsage records token consumption for one LLM call
func RecordLLMUsage(role string, promptTokens, completionTokens int64) {
	if promptTokens > 0 {
		LLMTokensUsed.WithLabelValues(role, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensUsed.WithLabelValues(role, "completion").Add(float64(completionTokens))
	}
}

// RecordFeedPoll records one locality poll
func RecordFeedPoll(locality string, items int, hitLimit bool, err error) {
	if err != nil {
		FeedPollsTotal.WithLabelValues(locality, "error").Inc()
		return
	}
	FeedPollsTotal.WithLabelValues(locality, "success").Inc()
	FeedItemsFetched.Add(float64(items))
	if hitLimit {
		FeedResultLimitHits.WithLabelValues(locality).Inc()
	}
}

// RecordGeocode records one geocoding request
func RecordGeocode(result string, duration time.Duration) {
	GeocodeRequestsTotal.WithLabelValues(result).Inc()
	GeocodeDuration.Observe(duration.Seconds())
}
