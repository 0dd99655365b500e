// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import "time"

// APIResponse is the envelope for every JSON endpoint.
//
// Success:
//
//	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}
//
// Error:
//
//	{"status": "error", "data": null, "error": {"code": "NOT_FOUND", "message": "..."}}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries per-response observability fields.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is the structured error body.
//
// Common codes: VALIDATION_ERROR, NOT_FOUND, DATABASE_ERROR,
// RATE_LIMIT_EXCEEDED, PIPELINE_BUSY, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PaginationInfo is offset pagination metadata. List endpoints cap limit
// server-side and report whether another page exists.
type PaginationInfo struct {
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	HasMore    bool   `json:"has_more"`
	TotalCount *int64 `json:"total_count,omitempty"`
}

// SourcesResponse wraps a page of sources.
type SourcesResponse struct {
	Sources    []Source       `json:"sources"`
	Pagination PaginationInfo `json:"pagination"`
}

// EventsResponse wraps a page of unique events.
type EventsResponse struct {
	Events     []UniqueEvent  `json:"events"`
	Pagination PaginationInfo `json:"pagination"`
}

// EventDetail is one unique event with the raw events that feed it.
type EventDetail struct {
	Event     UniqueEvent `json:"event"`
	RawEvents []RawEvent  `json:"raw_events"`
}

// RawEventsResponse wraps a page of raw events.
type RawEventsResponse struct {
	RawEvents  []RawEvent     `json:"raw_events"`
	Pagination PaginationInfo `json:"pagination"`
}

// HealthStatus is the full health report served by /api/v1/health.
type HealthStatus struct {
	Status            string     `json:"status"`
	Version           string     `json:"version"`
	DatabaseConnected bool       `json:"database_connected"`
	PipelineEnabled   bool       `json:"pipeline_enabled"`
	LastPipelineRun   *time.Time `json:"last_pipeline_run,omitempty"`
	UptimeSeconds     float64    `json:"uptime_seconds"`
}

// PipelineStats is the aggregate snapshot served by the stats endpoint.
type PipelineStats struct {
	Sources      SourceStats      `json:"sources"`
	RawEvents    RawEventStats    `json:"raw_events"`
	UniqueEvents UniqueEventStats `json:"unique_events"`
	Feed         FeedStats        `json:"feed"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// FeedStats summarizes ingestion progress across localities.
type FeedStats struct {
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	TrackedCities int64      `json:"tracked_cities"`
	ShardedCities int64      `json:"sharded_cities"`
}

// SourceStats counts sources per pipeline status.
type SourceStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// RawEventStats counts raw events per dedup state.
type RawEventStats struct {
	Total        int64            `json:"total"`
	ByDedupState map[string]int64 `json:"by_dedup_state"`
	GoldStandard int64            `json:"gold_standard"`
}

// UniqueEventStats counts canonical incidents.
type UniqueEventStats struct {
	Total           int64 `json:"total"`
	Confirmed       int64 `json:"confirmed"`
	NeedsEnrichment int64 `json:"needs_enrichment"`
	Geocoded        int64 `json:"geocoded"`
}

// StageRunResult summarizes one manually triggered stage run.
type StageRunResult struct {
	Stage      string    `json:"stage"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
