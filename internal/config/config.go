// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package config

import (
	"time"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file, and environment variables (highest priority).
//
// Configuration Categories:
//
//  1. Ingestion:
//     - Feed: RSS aggregator queries, localities, polling politeness
//     - Resolver: aggregator redirect-link resolution
//     - Content: article download and text extraction limits
//
//  2. Intelligence:
//     - LLM: OpenAI-compatible endpoint, per-stage models, retry budget
//     - Dedup: match thresholds, candidate blocking, post-pass window
//     - Geocoder: optional forward geocoding of canonical incidents
//
//  3. Infrastructure:
//     - Pipeline: stage scheduling, batch sizes, concurrency, janitor
//     - Database: DuckDB configuration (path, memory, threads)
//     - Server: HTTP server configuration (port, host, timeout)
//
//  4. API & Observability:
//     - API: pagination and rate limits
//     - Logging: log levels and output formats
//
// Thread Safety:
// Config is immutable after LoadWithKoanf() and safe for concurrent reads.
type Config struct {
	Feed     FeedConfig     `koanf:"feed"`
	Resolver ResolverConfig `koanf:"resolver"`
	Content  ContentConfig  `koanf:"content"`
	LLM      LLMConfig      `koanf:"llm"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Geocoder GeocoderConfig `koanf:"geocoder"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// FeedConfig holds the RSS aggregator settings. Queries are templates: a
// literal "{city}" placeholder is expanded against every entry in Cities; a
// query without the placeholder is polled once as-is. A poll whose result
// count reaches ShardThreshold counts as a capped response; a locality that
// caps twice gets its queries re-issued per publisher domain (see CityStats).
// RequestsPerMinute is the global cap across all feed requests and
// RequestInterval the minimum spacing between consecutive ones.
//
// Environment Variables:
//   - FEED_BASE_URL: aggregator origin (default: https://news.google.com)
//   - FEED_QUERIES: comma-separated query templates
//   - FEED_CITIES: comma-separated localities crossed with the templates
//   - FEED_PUBLISHER_DOMAINS: domains used for site: sharding
//   - FEED_WHEN: recency window appended to every query (e.g. 7d)
//   - FEED_REQUEST_INTERVAL: politeness delay between feed requests
type FeedConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Language          string        `koanf:"language"`
	Country           string        `koanf:"country"`
	Queries           []string      `koanf:"queries"`
	Cities            []string      `koanf:"cities"`
	PublisherDomains  []string      `koanf:"publisher_domains"`
	When              string        `koanf:"when"`
	ShardThreshold    int           `koanf:"shard_threshold"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	RequestInterval   time.Duration `koanf:"request_interval"`
	Timeout           time.Duration `koanf:"timeout"`
	UserAgent         string        `koanf:"user_agent"`
}

// ResolverConfig controls resolution of aggregator redirect links into
// publisher URLs. Most links decode locally; the rest go through the
// aggregator's batch endpoint, which is why the resolver carries its own
// politeness interval.
type ResolverConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BatchURL        string        `koanf:"batch_url"`
	RequestInterval time.Duration `koanf:"request_interval"`
	Timeout         time.Duration `koanf:"timeout"`
}

// ContentConfig controls article download and text extraction.
// MinLength rejects pages whose extracted text is too short to describe an
// incident (cookie walls, paywalled stubs, error pages). MinYear is the
// plausibility floor for dates found in article URLs and bodies.
type ContentConfig struct {
	MinLength int           `koanf:"min_length"`
	MaxLength int           `koanf:"max_length"`
	Timeout   time.Duration `koanf:"timeout"`
	UserAgent string        `koanf:"user_agent"`
	MinYear   int           `koanf:"min_year"`
}

// LLMConfig holds the OpenAI-compatible endpoint settings and the model
// assignment per pipeline role. MaxRetries bounds schema-violation retries
// per call; transport failures are handled by the circuit breaker.
//
// Environment Variables:
//   - LLM_API_KEY (alias OPENAI_API_KEY): bearer token, required when the
//     pipeline is enabled
//   - LLM_BASE_URL (alias OPENAI_BASE_URL): override for self-hosted or
//     proxied endpoints; empty means the vendor default
type LLMConfig struct {
	BaseURL             string        `koanf:"base_url"`
	APIKey              string        `koanf:"api_key"`
	ClassificationModel string        `koanf:"classification_model"`
	ExtractionModel     string        `koanf:"extraction_model"`
	MatchModel          string        `koanf:"match_model"`
	EnrichmentModel     string        `koanf:"enrichment_model"`
	MaxRetries          int           `koanf:"max_retries"`
	RequestTimeout      time.Duration `koanf:"request_timeout"`
}

// DedupConfig holds the incident deduplication knobs.
//
// MatchThreshold links a raw event to an existing incident when the match
// confidence is >= the threshold. PostPassThreshold merges two incidents in
// the post-pass sweep only on strictly greater confidence; the sweep looks
// back PostPassWindowDays. CandidateWindowDays is the blocking window (same
// state, event date within +/- N days) used to shortlist candidates, capped
// at MaxCandidates per raw event.
type DedupConfig struct {
	MatchThreshold      float64 `koanf:"match_threshold"`
	PostPassThreshold   float64 `koanf:"post_pass_threshold"`
	PostPassWindowDays  int     `koanf:"post_pass_window_days"`
	CandidateWindowDays int     `koanf:"candidate_window_days"`
	MaxCandidates       int     `koanf:"max_candidates"`
	Concurrency         int     `koanf:"concurrency"`
	BatchSize           int     `koanf:"batch_size"`
}

// GeocoderConfig controls forward geocoding of canonical incidents.
// The geocoder is active only when Enabled is true AND an API key is
// present; Active() folds both checks.
type GeocoderConfig struct {
	Enabled         bool          `koanf:"enabled"`
	APIKey          string        `koanf:"api_key"`
	BaseURL         string        `koanf:"base_url"`
	Region          string        `koanf:"region"`
	Language        string        `koanf:"language"`
	RequestInterval time.Duration `koanf:"request_interval"`
	Timeout         time.Duration `koanf:"timeout"`
}

// Active reports whether geocoding should actually run. An explicit
// GEOCODER_ENABLED=false always wins; enabled-without-key degrades to
// inactive (the caller logs the degradation).
func (g GeocoderConfig) Active() bool {
	return g.Enabled && g.APIKey != ""
}

// PipelineConfig controls stage scheduling and the worker pools.
// Schedule is a five-field cron expression evaluated in the server's local
// time. Batch sizes bound how many sources one stage run claims; the
// concurrency values bound parallel work within a claimed batch.
type PipelineConfig struct {
	Enabled                   bool          `koanf:"enabled"`
	Schedule                  string        `koanf:"schedule"`
	RunOnStartup              bool          `koanf:"run_on_startup"`
	ClassificationBatchSize   int           `koanf:"classification_batch_size"`
	DownloadBatchSize         int           `koanf:"download_batch_size"`
	ExtractionBatchSize       int           `koanf:"extraction_batch_size"`
	ClassificationConcurrency int           `koanf:"classification_concurrency"`
	DownloadConcurrency       int           `koanf:"download_concurrency"`
	ExtractionConcurrency     int           `koanf:"extraction_concurrency"`
	JanitorEnabled            bool          `koanf:"janitor_enabled"`
	StaleClaimAfter           time.Duration `koanf:"stale_claim_after"`
	StageTimeout              time.Duration `koanf:"stage_timeout"`
}

// DatabaseConfig holds DuckDB configuration.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"` // 0 = runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// APIConfig holds pagination and rate-limit settings for the read API.
type APIConfig struct {
	DefaultPageSize   int           `koanf:"default_page_size"`
	MaxPageSize       int           `koanf:"max_page_size"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
