// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateFeed(); err != nil {
		return err
	}

	if err := c.validateResolver(); err != nil {
		return err
	}

	if err := c.validateContent(); err != nil {
		return err
	}

	if err := c.validateLLM(); err != nil {
		return err
	}

	if err := c.validateDedup(); err != nil {
		return err
	}

	if err := c.validateGeocoder(); err != nil {
		return err
	}

	if err := c.validatePipeline(); err != nil {
		return err
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateAPI(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateFeed validates the aggregator settings
func (c *Config) validateFeed() error {
	if err := validateHTTPURL(c.Feed.BaseURL, "FEED_BASE_URL"); err != nil {
		return err
	}
	if len(c.Feed.Queries) == 0 {
		return fmt.Errorf("FEED_QUERIES must contain at least one query template")
	}
	if c.Feed.ShardThreshold < 1 {
		return fmt.Errorf("FEED_SHARD_THRESHOLD must be at least 1")
	}
	if c.Feed.RequestsPerMinute < 1 {
		return fmt.Errorf("FEED_REQUESTS_PER_MINUTE must be at least 1")
	}
	if c.Feed.RequestInterval < 0 {
		return fmt.Errorf("FEED_REQUEST_INTERVAL must not be negative")
	}
	return nil
}

// validateResolver validates redirect-resolution settings (only if enabled)
func (c *Config) validateResolver() error {
	if !c.Resolver.Enabled {
		return nil
	}
	if err := validateEndpointURL(c.Resolver.BatchURL, "RESOLVER_BATCH_URL"); err != nil {
		return err
	}
	if c.Resolver.RequestInterval < 0 {
		return fmt.Errorf("RESOLVER_REQUEST_INTERVAL must not be negative")
	}
	return nil
}

// validateContent validates download and extraction limits
func (c *Config) validateContent() error {
	if c.Content.MinLength < 0 {
		return fmt.Errorf("CONTENT_MIN_LENGTH must not be negative")
	}
	if c.Content.MaxLength > 0 && c.Content.MaxLength < c.Content.MinLength {
		return fmt.Errorf("CONTENT_MAX_LENGTH must be >= CONTENT_MIN_LENGTH")
	}
	if c.Content.MinYear < 2000 || c.Content.MinYear > 2100 {
		return fmt.Errorf("CONTENT_MIN_YEAR must be between 2000 and 2100")
	}
	if c.Content.Timeout <= 0 {
		return fmt.Errorf("CONTENT_TIMEOUT must be positive")
	}
	return nil
}

// validateLLM validates the model endpoint settings. The API key is only
// required when the pipeline runs; a read-only deployment can omit it.
func (c *Config) validateLLM() error {
	if !c.Pipeline.Enabled {
		return nil
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required when PIPELINE_ENABLED=true")
	}
	if c.LLM.BaseURL != "" {
		if err := validateEndpointURL(c.LLM.BaseURL, "LLM_BASE_URL"); err != nil {
			return err
		}
	}
	for name, model := range map[string]string{
		"LLM_CLASSIFICATION_MODEL": c.LLM.ClassificationModel,
		"LLM_EXTRACTION_MODEL":     c.LLM.ExtractionModel,
		"LLM_MATCH_MODEL":          c.LLM.MatchModel,
		"LLM_ENRICHMENT_MODEL":     c.LLM.EnrichmentModel,
	} {
		if model == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	if c.LLM.MaxRetries < 0 || c.LLM.MaxRetries > 10 {
		return fmt.Errorf("LLM_MAX_RETRIES must be between 0 and 10")
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("LLM_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// validateDedup validates the deduplication thresholds and pools
func (c *Config) validateDedup() error {
	if c.Dedup.MatchThreshold < 0 || c.Dedup.MatchThreshold > 1 {
		return fmt.Errorf("DEDUP_MATCH_THRESHOLD must be between 0 and 1")
	}
	if c.Dedup.PostPassThreshold < 0 || c.Dedup.PostPassThreshold > 1 {
		return fmt.Errorf("DEDUP_POST_PASS_THRESHOLD must be between 0 and 1")
	}
	if c.Dedup.PostPassWindowDays < 0 {
		return fmt.Errorf("DEDUP_POST_PASS_WINDOW_DAYS must not be negative")
	}
	if c.Dedup.CandidateWindowDays < 0 {
		return fmt.Errorf("DEDUP_CANDIDATE_WINDOW_DAYS must not be negative")
	}
	if c.Dedup.MaxCandidates < 1 {
		return fmt.Errorf("DEDUP_MAX_CANDIDATES must be at least 1")
	}
	if c.Dedup.Concurrency < 1 {
		return fmt.Errorf("DEDUP_CONCURRENCY must be at least 1")
	}
	if c.Dedup.BatchSize < 1 {
		return fmt.Errorf("DEDUP_BATCH_SIZE must be at least 1")
	}
	return nil
}

// validateGeocoder validates geocoding settings. Enabled-without-key is not
// an error: the geocoder degrades to inactive and the startup log says so.
func (c *Config) validateGeocoder() error {
	if !c.Geocoder.Active() {
		return nil
	}
	if err := validateEndpointURL(c.Geocoder.BaseURL, "GEOCODER_BASE_URL"); err != nil {
		return err
	}
	if c.Geocoder.RequestInterval < 0 {
		return fmt.Errorf("GEOCODER_REQUEST_INTERVAL must not be negative")
	}
	return nil
}

// validatePipeline validates scheduling and worker pool settings
func (c *Config) validatePipeline() error {
	if !c.Pipeline.Enabled {
		return nil
	}
	if fields := strings.Fields(c.Pipeline.Schedule); len(fields) != 5 {
		return fmt.Errorf("PIPELINE_SCHEDULE must be a five-field cron expression, got %q", c.Pipeline.Schedule)
	}
	for name, n := range map[string]int{
		"PIPELINE_CLASSIFICATION_BATCH_SIZE": c.Pipeline.ClassificationBatchSize,
		"PIPELINE_DOWNLOAD_BATCH_SIZE":       c.Pipeline.DownloadBatchSize,
		"PIPELINE_EXTRACTION_BATCH_SIZE":     c.Pipeline.ExtractionBatchSize,
		"PIPELINE_CLASSIFICATION_WORKERS":    c.Pipeline.ClassificationConcurrency,
		"PIPELINE_DOWNLOAD_WORKERS":          c.Pipeline.DownloadConcurrency,
		"PIPELINE_EXTRACTION_WORKERS":        c.Pipeline.ExtractionConcurrency,
	} {
		if n < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if c.Pipeline.JanitorEnabled && c.Pipeline.StaleClaimAfter < time.Minute {
		return fmt.Errorf("PIPELINE_STALE_CLAIM_AFTER must be at least 1m when the janitor is enabled")
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("PIPELINE_STAGE_TIMEOUT must be positive")
	}
	return nil
}

// validateDatabase validates DuckDB settings
func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must not be negative")
	}
	return nil
}

// validEnvironments defines the allowed deployment environments
var validEnvironments = map[string]bool{
	"development": true,
	"production":  true,
	"test":        true,
}

// validateServer validates HTTP server settings
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if !validEnvironments[c.Server.Environment] {
		return fmt.Errorf("ENVIRONMENT must be one of: development, production, test")
	}
	return nil
}

// validateAPI validates pagination and rate-limit settings
func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize < 1 {
		return fmt.Errorf("API_DEFAULT_PAGE_SIZE must be at least 1")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("API_MAX_PAGE_SIZE must be >= API_DEFAULT_PAGE_SIZE")
	}
	if !c.API.RateLimitDisabled {
		if c.API.RateLimitReqs < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
		}
		if c.API.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	return nil
}

// validLogLevels defines the allowed log levels
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines the allowed log formats
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format == "" {
		return nil
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// validateHTTPURL checks that a value is a bare http(s) origin.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	// Allow trailing slash but no other paths
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return fmt.Errorf("%s should be base URL only, remove path: %s", fieldName, parsedURL.Path)
	}

	return nil
}

// validateEndpointURL checks that a value is an http(s) URL; unlike
// validateHTTPURL a path is allowed (geocoder and batch endpoints carry one).
func validateEndpointURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	return nil
}
