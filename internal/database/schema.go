// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the sequences and core tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range db.getTableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// getTableCreationQueries returns the schema DDL in dependency order.
//
// Design notes:
//   - IDs come from explicit sequences so they stay monotonic across
//     restarts and are stable foreign keys for raw_events.unique_event_id.
//   - event_date columns are TIMESTAMP, always stored as UTC midnight;
//     day-level comparisons are plain equality, blocking windows are
//     half-open BETWEEN ranges computed by the caller.
//   - extraction_data and merged_data hold JSON as TEXT so no DuckDB
//     extension is needed at open time.
func (db *DB) getTableCreationQueries() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_sources START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_raw_events START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_unique_events START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_city_stats START 1;`,

		// One row per unique feed entry. feed_id is the idempotence
		// boundary: re-ingesting a known entry is a silent no-op.
		`CREATE TABLE IF NOT EXISTS sources (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_sources'),
			feed_id TEXT NOT NULL UNIQUE,
			feed_url TEXT NOT NULL,
			resolved_url TEXT,
			headline TEXT NOT NULL,
			publisher TEXT,
			publisher_url TEXT,
			published_at TIMESTAMP,
			content TEXT,
			search_query TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ready-for-classification' CHECK (status IN (
				'ready-for-classification', 'classifying', 'discarded',
				'ready-for-download', 'downloading', 'failed-in-download',
				'ready-for-extraction', 'extracting', 'failed-in-extraction',
				'extracted')),
			is_violent_death BOOLEAN,
			confidence TEXT,
			reasoning TEXT,
			error_message TEXT,
			fetched_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		// One structured extraction per source (1:1, enforced by the
		// UNIQUE on source_id). unique_event_id is null iff dedup_state
		// is 'pending'.
		`CREATE TABLE IF NOT EXISTS raw_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_raw_events'),
			source_id BIGINT NOT NULL UNIQUE,
			unique_event_id BIGINT,
			dedup_state TEXT NOT NULL DEFAULT 'pending' CHECK (dedup_state IN (
				'pending', 'matched', 'clustered')),
			is_gold_standard BOOLEAN NOT NULL DEFAULT false,
			event_date TIMESTAMP,
			date_precision TEXT,
			time_of_day TEXT,
			city TEXT,
			state TEXT,
			neighborhood TEXT,
			victim_count INTEGER NOT NULL DEFAULT 1,
			identified_victim_count INTEGER NOT NULL DEFAULT 0,
			perpetrator_count INTEGER,
			security_force_involved BOOLEAN NOT NULL DEFAULT false,
			homicide_type TEXT,
			method TEXT,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			extraction_data TEXT,
			extraction_model TEXT NOT NULL,
			extraction_success BOOLEAN NOT NULL DEFAULT true,
			extraction_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		// One canonical row per real-world incident. Enrichment overwrites
		// these rows wholesale; the post-pass merge is the only deleter.
		`CREATE TABLE IF NOT EXISTS unique_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_unique_events'),
			homicide_type TEXT,
			method TEXT,
			event_date TIMESTAMP,
			date_precision TEXT,
			time_of_day TEXT,
			country TEXT,
			state TEXT,
			city TEXT,
			neighborhood TEXT,
			street TEXT,
			establishment TEXT,
			location_description TEXT,
			latitude DOUBLE,
			longitude DOUBLE,
			plus_code TEXT,
			place_id TEXT,
			formatted_address TEXT,
			geocode_precision TEXT,
			geocode_source TEXT,
			geocode_confidence DOUBLE,
			victim_count INTEGER NOT NULL DEFAULT 1,
			identified_victim_count INTEGER NOT NULL DEFAULT 0,
			victim_summary TEXT,
			perpetrator_count INTEGER,
			identified_perpetrator_count INTEGER,
			security_force_involved BOOLEAN NOT NULL DEFAULT false,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			additional_context TEXT,
			merged_data TEXT,
			source_count INTEGER NOT NULL DEFAULT 1,
			confirmed BOOLEAN NOT NULL DEFAULT false,
			needs_enrichment BOOLEAN NOT NULL DEFAULT true,
			last_enriched_at TIMESTAMP,
			enrichment_model TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,

		// Per-locality feed counters driving publisher-domain sharding.
		`CREATE TABLE IF NOT EXISTS city_stats (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_city_stats'),
			city TEXT NOT NULL UNIQUE,
			last_result_count INTEGER NOT NULL DEFAULT 0,
			hit_limit_count INTEGER NOT NULL DEFAULT 0,
			needs_sharding BOOLEAN NOT NULL DEFAULT false,
			last_polled_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
}

// createIndexes creates indexes for the pipeline's query patterns.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range db.getIndexQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute index query: %s: %w", query, err)
		}
	}

	return nil
}

// getIndexQueries returns the index DDL.
func (db *DB) getIndexQueries() []string {
	return []string{
		// Stage claim scans filter on status; stats group by it.
		`CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status);`,
		`CREATE INDEX IF NOT EXISTS idx_sources_fetched_at ON sources(fetched_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_sources_updated_at ON sources(updated_at);`,

		// Dedup scans pending raw events by date window.
		`CREATE INDEX IF NOT EXISTS idx_raw_events_dedup_state ON raw_events(dedup_state);`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_event_date ON raw_events(event_date);`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_unique_event ON raw_events(unique_event_id);`,

		// Catalogue reads filter by date, place, and enrichment flag.
		`CREATE INDEX IF NOT EXISTS idx_unique_events_event_date ON unique_events(event_date DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_unique_events_city ON unique_events(city);`,
		`CREATE INDEX IF NOT EXISTS idx_unique_events_state ON unique_events(state);`,
		`CREATE INDEX IF NOT EXISTS idx_unique_events_needs_enrichment ON unique_events(needs_enrichment);`,
		`CREATE INDEX IF NOT EXISTS idx_unique_events_created_at ON unique_events(created_at DESC);`,

		`CREATE INDEX IF NOT EXISTS idx_city_stats_needs_sharding ON city_stats(needs_sharding);`,
	}
}
