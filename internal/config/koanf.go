// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vigia/config.yaml",
	"/etc/vigia/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every optional setting at its default.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			BaseURL:  "https://news.google.com",
			Language: "pt-BR",
			Country:  "BR",
			Queries: []string{
				`"{city}" homicídio`,
				`"{city}" assassinado`,
				`"{city}" morto a tiros`,
				`"{city}" baleado morre`,
			},
			Cities:            []string{"Fortaleza"},
			PublisherDomains:  []string{},
			When:              "7d",
			ShardThreshold:    100, // aggregator hard cap per response
			RequestsPerMinute: 20,
			RequestInterval:   2 * time.Second,
			Timeout:           30 * time.Second,
			UserAgent:         defaultUserAgent,
		},
		Resolver: ResolverConfig{
			Enabled:         true,
			BatchURL:        "https://news.google.com/_/DotsSplashUi/data/batchexecute",
			RequestInterval: 500 * time.Millisecond,
			Timeout:         20 * time.Second,
		},
		Content: ContentConfig{
			MinLength: 200,
			MaxLength: 50_000,
			Timeout:   30 * time.Second,
			UserAgent: defaultUserAgent,
			MinYear:   2000,
		},
		LLM: LLMConfig{
			BaseURL:             "", // vendor default
			APIKey:              "",
			ClassificationModel: "gpt-4o-mini",
			ExtractionModel:     "gpt-4o",
			MatchModel:          "gpt-4o-mini",
			EnrichmentModel:     "gpt-4o",
			MaxRetries:          3,
			RequestTimeout:      2 * time.Minute,
		},
		Dedup: DedupConfig{
			MatchThreshold:      0.8,
			PostPassThreshold:   0.8,
			PostPassWindowDays:  7,
			CandidateWindowDays: 1,
			MaxCandidates:       10,
			Concurrency:         10,
			BatchSize:           50,
		},
		Geocoder: GeocoderConfig{
			Enabled:         true, // inactive until an API key is configured
			APIKey:          "",
			BaseURL:         "https://maps.googleapis.com/maps/api/geocode/json",
			Region:          "br",
			Language:        "pt-BR",
			RequestInterval: 200 * time.Millisecond,
			Timeout:         15 * time.Second,
		},
		Pipeline: PipelineConfig{
			Enabled:                   true,
			Schedule:                  "17 * * * *", // hourly, off the whole hour
			RunOnStartup:              false,
			ClassificationBatchSize:   50,
			DownloadBatchSize:         20,
			ExtractionBatchSize:       20,
			ClassificationConcurrency: 10,
			DownloadConcurrency:       10,
			ExtractionConcurrency:     15,
			JanitorEnabled:            false,
			StaleClaimAfter:           2 * time.Hour,
			StageTimeout:              20 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:                   "/data/vigia.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Server: ServerConfig{
			Port:        8442,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		API: APIConfig{
			DefaultPageSize:   20,
			MaxPageSize:       100,
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// defaultUserAgent is a browser-like UA; several regional publishers serve
// bot UAs an empty shell page.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in defaults
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when they arrive as env var strings.
var sliceConfigPaths = []string{
	"feed.queries",
	"feed.cities",
	"feed.publisher_domains",
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file or defaults), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - FEED_BASE_URL -> feed.base_url
//   - LLM_API_KEY -> llm.api_key
//   - PIPELINE_SCHEDULE -> pipeline.schedule
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Feed mappings
		"feed_base_url":            "feed.base_url",
		"feed_language":            "feed.language",
		"feed_country":             "feed.country",
		"feed_queries":             "feed.queries",
		"feed_cities":              "feed.cities",
		"feed_publisher_domains":   "feed.publisher_domains",
		"feed_when":                "feed.when",
		"feed_shard_threshold":     "feed.shard_threshold",
		"feed_requests_per_minute": "feed.requests_per_minute",
		"feed_request_interval":    "feed.request_interval",
		"feed_timeout":             "feed.timeout",
		"feed_user_agent":          "feed.user_agent",

		// Resolver mappings
		"resolver_enabled":          "resolver.enabled",
		"resolver_batch_url":        "resolver.batch_url",
		"resolver_request_interval": "resolver.request_interval",
		"resolver_timeout":          "resolver.timeout",

		// Content mappings
		"content_min_length": "content.min_length",
		"content_max_length": "content.max_length",
		"content_timeout":    "content.timeout",
		"content_user_agent": "content.user_agent",
		"content_min_year":   "content.min_year",

		// LLM mappings (OPENAI_* aliases kept for drop-in compatibility)
		"llm_base_url":             "llm.base_url",
		"llm_api_key":              "llm.api_key",
		"openai_base_url":          "llm.base_url",
		"openai_api_key":           "llm.api_key",
		"llm_classification_model": "llm.classification_model",
		"llm_extraction_model":     "llm.extraction_model",
		"llm_match_model":          "llm.match_model",
		"llm_enrichment_model":     "llm.enrichment_model",
		"llm_max_retries":          "llm.max_retries",
		"llm_request_timeout":      "llm.request_timeout",

		// Dedup mappings
		"dedup_match_threshold":       "dedup.match_threshold",
		"dedup_post_pass_threshold":   "dedup.post_pass_threshold",
		"dedup_post_pass_window_days": "dedup.post_pass_window_days",
		"dedup_candidate_window_days": "dedup.candidate_window_days",
		"dedup_max_candidates":        "dedup.max_candidates",
		"dedup_concurrency":           "dedup.concurrency",
		"dedup_batch_size":            "dedup.batch_size",

		// Geocoder mappings
		"geocoder_enabled":          "geocoder.enabled",
		"geocoder_api_key":          "geocoder.api_key",
		"google_maps_api_key":       "geocoder.api_key",
		"geocoder_base_url":         "geocoder.base_url",
		"geocoder_region":           "geocoder.region",
		"geocoder_language":         "geocoder.language",
		"geocoder_request_interval": "geocoder.request_interval",
		"geocoder_timeout":          "geocoder.timeout",

		// Pipeline mappings
		"pipeline_enabled":                   "pipeline.enabled",
		"pipeline_schedule":                  "pipeline.schedule",
		"pipeline_run_on_startup":            "pipeline.run_on_startup",
		"pipeline_classification_batch_size": "pipeline.classification_batch_size",
		"pipeline_download_batch_size":       "pipeline.download_batch_size",
		"pipeline_extraction_batch_size":     "pipeline.extraction_batch_size",
		"pipeline_classification_workers":    "pipeline.classification_concurrency",
		"pipeline_download_workers":          "pipeline.download_concurrency",
		"pipeline_extraction_workers":        "pipeline.extraction_concurrency",
		"pipeline_janitor_enabled":           "pipeline.janitor_enabled",
		"pipeline_stale_claim_after":         "pipeline.stale_claim_after",
		"pipeline_stage_timeout":             "pipeline.stage_timeout",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// API mappings
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",
		"rate_limit_requests":   "api.rate_limit_reqs",
		"rate_limit_window":     "api.rate_limit_window",
		"disable_rate_limit":    "api.rate_limit_disabled",
		"cors_origins":          "api.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables cannot
	// pollute the config.
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The caller is responsible for mutex protection when swapping the config
// during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
